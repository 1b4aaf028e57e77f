package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facility-risk/internal/database"
	"facility-risk/internal/lock"
	"facility-risk/internal/metrics"
	"facility-risk/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t)
	f.engine = New(f.db, WithMetrics(metrics.NewWorkflow(reg)), WithNotifier(f.notifier))

	f.protocol(t)
	_, err := f.engine.Protocols.Create(context.Background(), f.viewer, fiveTasks())
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "facility_workflow_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series for ok and one for permission")
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, context.DeadlineExceeded
}

// recordingLocker remembers every key it hands out.
type recordingLocker struct {
	inner lock.Locker
	mu    sync.Mutex
	keys  []string
}

func (r *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return r.inner.Lock(ctx, key)
}

func (r *recordingLocker) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.keys
	r.keys = nil
	return keys
}

func TestLinkingWritesHoldProtocolLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	protocolKey := "protocol:" + p.ID

	rec := &recordingLocker{inner: lock.NewKeyed()}
	f.engine = New(f.db, WithLocker(rec), WithNotifier(f.notifier))

	unlinked := f.risk(t, nil)
	assert.Empty(t, rec.take())

	linked := f.risk(t, &p.ID)
	assert.Equal(t, []string{protocolKey}, rec.take())

	_, err := f.engine.Risks.Update(ctx, f.admin, unlinked.ID, RiskPatch{ProtocolID: ptr(p.ID)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"risk:" + unlinked.ID, protocolKey}, rec.take())

	_, err = f.engine.Risks.ChangeState(ctx, f.admin, unlinked.ID, models.RiskMitigated)
	require.NoError(t, err)
	assert.Equal(t, []string{"risk:" + unlinked.ID}, rec.take())

	f.incident(t, &p.ID)
	assert.Equal(t, []string{protocolKey}, rec.take())

	_, _, err = f.engine.Coordinator.MaterializeRisk(ctx, f.operator, MaterializeRequest{
		RiskID:           linked.ID,
		EventDescription: "Corte total en sala de servidores",
		RealSeverity:     models.SeverityCritical,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"risk:" + linked.ID, protocolKey}, rec.take())
}

func TestLinkingWriteWaitsForProtocolDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)

	locks := lock.NewKeyed()
	f.engine = New(f.db, WithLocker(locks), WithNotifier(f.notifier))

	// hold the protocol as a soft delete would, then let the delete land first
	unlock, err := locks.Lock(ctx, "protocol:"+p.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Risks.Create(ctx, f.admin, RiskInput{
			Name:               "Falla eléctrica",
			Description:        "Interrupción del suministro",
			Category:           models.RiskCategoryOperational,
			Impact:             models.ImpactHigh,
			Probability:        models.ProbabilityMedium,
			MitigationMeasures: "UPS y generador de respaldo",
			ResponsibleUserID:  f.supervisor.UserID,
			ProtocolID:         &p.ID,
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("risk create finished while the protocol was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, f.db.Model(&models.Protocol{}).Where("id = ?", p.ID).Update("active", false).Error)
	unlock()

	err = <-done
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "protocolId", ve.Field)
}

func TestEngineLockFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	p := f.protocol(t)
	f.engine = New(f.db, WithLocker(failingLocker{}))

	_, err := f.engine.Protocols.SoftDelete(context.Background(), f.admin, p.ID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	stored, err := f.engine.Protocols.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestEngineUsesClock(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	e := New(db, WithClock(func() time.Time { return at }))

	u := models.User{Username: "op", Role: models.RoleOperator, Active: true}
	require.NoError(t, db.Create(&u).Error)

	inc, err := e.Incidents.Create(context.Background(), authOperator(u.ID), IncidentInput{
		Title: "Fuga", Description: "Agua en el piso", Category: "environmental", Severity: models.SeverityMedium,
	})
	require.NoError(t, err)
	assert.True(t, at.Equal(inc.ReportedAt))
}
