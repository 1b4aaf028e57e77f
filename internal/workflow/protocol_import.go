package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type protocolFile struct {
	Protocols []ProtocolInput `yaml:"protocols"`
}

// ParseProtocolsYAML decodes a protocol template file:
//
//	protocols:
//	  - title: Corte de energía
//	    category: power
//	    ...
func ParseProtocolsYAML(data []byte) ([]ProtocolInput, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalid("protocols", "template file is empty")
	}
	var file protocolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, invalid("protocols", fmt.Sprintf("decode templates: %v", err))
	}
	for i := range file.Protocols {
		if err := file.Protocols[i].normalize(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, invalid(fmt.Sprintf("protocols[%d].%s", i, ve.Field), ve.Reason)
			}
			return nil, err
		}
	}
	return file.Protocols, nil
}

// Import creates every template from r in one transaction. Templates whose
// title already exists among active protocols are skipped.
func (c *ProtocolCatalog) Import(ctx context.Context, actor auth.Context, r io.Reader) ([]models.Protocol, error) {
	const op = "protocol.import"
	if err := requirePrivileged(actor, "import protocols"); err != nil {
		return nil, c.reject(op, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	inputs, err := ParseProtocolsYAML(data)
	if err != nil {
		return nil, c.reject(op, err)
	}

	var created []models.Protocol
	err = c.run(ctx, op, nil, func(tx *gorm.DB, _ *outbox) error {
		for _, in := range inputs {
			var count int64
			if err := tx.Model(&models.Protocol{}).Where("title = ? AND active = ?", in.Title, true).Count(&count).Error; err != nil {
				return fmt.Errorf("check protocol title: %w", err)
			}
			if count > 0 {
				continue
			}
			p := models.Protocol{Active: true}
			in.apply(&p)
			if err := c.create(tx, actor, &p); err != nil {
				return err
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
