package database

import (
	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// CreateAuditLog writes a journal entry on the given handle; pass the open
// transaction so the entry commits or rolls back with the audited change.
func CreateAuditLog(tx *gorm.DB, userID, entity, entityID, action, details string) error {
	record := models.AuditLog{
		UserID:   userID,
		Entity:   entity,
		EntityID: entityID,
		Action:   action,
		Details:  details,
	}
	return tx.Create(&record).Error
}

func ListAuditLogs(db *gorm.DB, entity, entityID string, limit int) ([]models.AuditLog, error) {
	q := db.Order("created_at desc, id desc")
	if entity != "" {
		q = q.Where("entity = ?", entity)
	}
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var logs []models.AuditLog
	err := q.Find(&logs).Error
	return logs, err
}
