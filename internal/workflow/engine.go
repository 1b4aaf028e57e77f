// Package workflow is the risk/protocol/incident/execution engine. Every
// multi-record operation runs in one database transaction while holding the
// locks of the aggregates it touches; notifications leave only after commit.
package workflow

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"facility-risk/internal/auth"
	"facility-risk/internal/database"
	"facility-risk/internal/lock"
	"facility-risk/internal/metrics"
	"facility-risk/internal/notify"

	"gorm.io/gorm"
)

// Notifier is the fire-and-forget side channel. Calls must not block.
type Notifier interface {
	IncidentCreated(notify.IncidentNotice)
	RiskMaterialized(notify.MaterializationNotice)
}

type noopNotifier struct{}

func (noopNotifier) IncidentCreated(notify.IncidentNotice)          {}
func (noopNotifier) RiskMaterialized(notify.MaterializationNotice) {}

type Engine struct {
	Risks       *RiskRegistry
	Protocols   *ProtocolCatalog
	Incidents   *IncidentLedger
	Executions  *ExecutionTracker
	Coordinator *Coordinator
	Queries     *Queries
}

type Option func(*deps)

func WithLocker(l lock.Locker) Option {
	return func(d *deps) { d.locks = l }
}

func WithNotifier(n Notifier) Option {
	return func(d *deps) { d.notifier = n }
}

func WithMetrics(m *metrics.Workflow) Option {
	return func(d *deps) { d.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

func New(db *gorm.DB, opts ...Option) *Engine {
	d := &deps{
		db:       db,
		locks:    lock.NewKeyed(),
		notifier: noopNotifier{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}

	e := &Engine{
		Risks:     &RiskRegistry{deps: d},
		Protocols: &ProtocolCatalog{deps: d},
		Incidents: &IncidentLedger{deps: d},
		Queries:   &Queries{deps: d},
	}
	e.Executions = &ExecutionTracker{deps: d, incidents: e.Incidents}
	e.Coordinator = &Coordinator{deps: d, incidents: e.Incidents}
	return e
}

type deps struct {
	db       *gorm.DB
	locks    lock.Locker
	notifier Notifier
	metrics  *metrics.Workflow
	logger   *slog.Logger
	now      func() time.Time
}

// outbox collects notifications produced inside a transaction.
type outbox struct {
	pending []func(Notifier)
}

func (o *outbox) incidentCreated(n notify.IncidentNotice) {
	o.pending = append(o.pending, func(nt Notifier) { nt.IncidentCreated(n) })
}

func (o *outbox) riskMaterialized(n notify.MaterializationNotice) {
	o.pending = append(o.pending, func(nt Notifier) { nt.RiskMaterialized(n) })
}

// run locks keys (sorted, to keep a global order), executes fn in a
// transaction and flushes the outbox once the transaction has committed.
func (d *deps) run(ctx context.Context, op string, keys []string, fn func(tx *gorm.DB, out *outbox) error) (err error) {
	start := time.Now()
	defer func() {
		d.metrics.Observe(op, Kind(err), time.Since(start))
		if err != nil && Kind(err) == "internal" {
			d.logger.Error("workflow operation failed", "op", op, "err", err)
		}
	}()

	keys = append([]string(nil), keys...)
	sort.Strings(keys)
	for _, key := range keys {
		unlock, err := d.locks.Lock(ctx, key)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var out outbox
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, &out)
	})
	if err != nil {
		return err
	}

	for _, send := range out.pending {
		send(d.notifier)
	}
	return nil
}

// reject records a failed precondition check in metrics and returns it.
func (d *deps) reject(op string, err error) error {
	d.metrics.Observe(op, Kind(err), 0)
	return err
}

func (d *deps) audit(tx *gorm.DB, actor auth.Context, entity, id, action, details string) error {
	return database.CreateAuditLog(tx, actor.UserID, entity, id, action, details)
}

// linkKeys adds the protocol lock to keys when a write links to pid, so the
// link check cannot interleave with a protocol update or soft delete.
func linkKeys(keys []string, pid *string) []string {
	if pid != nil && strings.TrimSpace(*pid) != "" {
		keys = append(keys, lockKey("protocol", strings.TrimSpace(*pid)))
	}
	return keys
}

func requirePrivileged(actor auth.Context, action string) error {
	if !actor.Privileged() {
		return &PermissionError{Action: action, Role: actor.Role}
	}
	return nil
}

func requireWriter(actor auth.Context, action string) error {
	if !actor.CanWrite() {
		return &PermissionError{Action: action, Role: actor.Role}
	}
	return nil
}

func lockKey(entity, id string) string {
	return entity + ":" + id
}
