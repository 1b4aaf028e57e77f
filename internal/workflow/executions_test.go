package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"facility-risk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStartMarksIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	inc := f.incident(t, nil)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionInProgress, exec.State)
	assert.Zero(t, exec.Progress)
	assert.Empty(t, exec.CompletedTaskIDs)
	assert.Equal(t, f.supervisor.UserID, exec.UserID)

	stored, err := f.engine.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.True(t, stored.ProtocolExecuted)
	assert.Equal(t, models.IncidentInProgress, stored.State)
	require.NotNil(t, stored.ProtocolID)
	assert.Equal(t, p.ID, *stored.ProtocolID)

	_, err = f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, inc.ID, ce.ID)

	_, err = f.engine.Executions.Start(ctx, f.operator, p.ID, nil)
	assert.Equal(t, "permission", Kind(err))

	_, err = f.engine.Executions.Start(ctx, f.supervisor, "missing", nil)
	assert.Equal(t, "not_found", Kind(err))
}

func TestExecutionFiveTaskScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	inc := f.incident(t, nil)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	require.NoError(t, err)

	want := []int{20, 40, 60, 80, 100}
	for i, taskID := range p.TaskIDs() {
		exec, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, taskID, true)
		require.NoError(t, err)
		assert.Equal(t, want[i], exec.Progress, "after %s", taskID)
	}

	assert.Equal(t, models.ExecutionCompleted, exec.State)
	assert.NotNil(t, exec.EndedAt)
	assert.Equal(t, p.TaskIDs(), exec.CompletedTaskIDs)

	resolved, err := f.engine.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, f.supervisor.UserID, *resolved.ResolvedBy)

	_, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, "0-0", false)
	assert.Equal(t, "validation", Kind(err))
}

func TestExecutionToggleRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)

	exec, err := f.engine.Executions.Start(ctx, f.admin, p.ID, nil)
	require.NoError(t, err)
	exec, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "1-1", true)
	require.NoError(t, err)
	exec, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "0-0", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"0-0", "1-1"}, exec.CompletedTaskIDs)
	before := exec

	exec, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "0-2", true)
	require.NoError(t, err)
	assert.Equal(t, 60, exec.Progress)
	exec, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "0-2", false)
	require.NoError(t, err)

	assert.Equal(t, before.CompletedTaskIDs, exec.CompletedTaskIDs)
	assert.Equal(t, before.Progress, exec.Progress)
	assert.Equal(t, models.ExecutionInProgress, exec.State)

	exec, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "0-0", true)
	require.NoError(t, err)
	assert.Equal(t, before.CompletedTaskIDs, exec.CompletedTaskIDs, "checking twice is idempotent")

	_, err = f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "9-9", true)
	assert.Equal(t, "validation", Kind(err))
}

func TestExecutionToggleOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.Executions.ToggleTask(ctx, f.operator, exec.ID, "0-0", true)
	assert.Equal(t, "permission", Kind(err))
	_, err = f.engine.Executions.ToggleTask(ctx, f.viewer, exec.ID, "0-0", true)
	assert.Equal(t, "permission", Kind(err))

	got, err := f.engine.Executions.ToggleTask(ctx, f.admin, exec.ID, "0-0", true)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Progress)
}

func TestExecutionCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	inc := f.incident(t, nil)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	require.NoError(t, err)
	exec, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, "0-0", true)
	require.NoError(t, err)

	before, err := f.engine.Executions.Get(ctx, exec.ID)
	require.NoError(t, err)
	_, err = f.engine.Executions.Cancel(ctx, f.supervisor, exec.ID, "   ")
	assert.Equal(t, "validation", Kind(err))
	unchanged, err := f.engine.Executions.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	cancelled, err := f.engine.Executions.Cancel(ctx, f.supervisor, exec.ID, "Falta de repuestos")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.State)
	assert.Equal(t, 20, cancelled.Progress)
	assert.Equal(t, "Falta de repuestos", cancelled.CancelReason)
	assert.Contains(t, cancelled.Notes, "Cancelado: Falta de repuestos")
	assert.NotNil(t, cancelled.EndedAt)

	stored, err := f.engine.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentInProgress, stored.State)

	_, err = f.engine.Executions.Cancel(ctx, f.supervisor, exec.ID, "otra vez")
	assert.Equal(t, "validation", Kind(err))
	_, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, "0-1", true)
	assert.Equal(t, "validation", Kind(err))

	// the incident is free for a new run once the previous one ended
	_, err = f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	assert.NoError(t, err)
}

func TestExecutionSaveNotesAndLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	inc := f.incident(t, nil)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	require.NoError(t, err)
	_, err = f.engine.Executions.Start(ctx, f.supervisor, p.ID, nil)
	require.NoError(t, err)

	noted, err := f.engine.Executions.SaveNotes(ctx, f.operator, exec.ID, "Generador sin combustible")
	require.NoError(t, err)
	assert.Equal(t, "Generador sin combustible", noted.Notes)
	assert.Equal(t, exec.Version+1, noted.Version)

	byIncident, err := f.engine.Executions.ListByIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, byIncident, 1)

	byProtocol, err := f.engine.Executions.ListByProtocol(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, byProtocol, 2)
}

func TestExecutionLargeChecklistCompletesOnlyWithEveryTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := fiveTasks()
	in.Steps = []models.ProtocolStep{{Title: "Inventario"}}
	for i := 0; i < 200; i++ {
		in.Steps[0].Tasks = append(in.Steps[0].Tasks, fmt.Sprintf("Revisar equipo %d", i))
	}
	p, err := f.engine.Protocols.Create(ctx, f.admin, in)
	require.NoError(t, err)
	ids := p.TaskIDs()
	require.Len(t, ids, 200)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, nil)
	require.NoError(t, err)
	exec.CompletedTaskIDs = ids[:198]
	exec.Progress = Progress(p, exec.CompletedTaskIDs)
	require.NoError(t, saveExecution(f.db, &exec))

	exec, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, ids[198], true)
	require.NoError(t, err)
	assert.Equal(t, 99, exec.Progress)
	assert.Equal(t, models.ExecutionInProgress, exec.State)
	assert.Nil(t, exec.EndedAt)

	exec, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, ids[199], true)
	require.NoError(t, err)
	assert.Equal(t, 100, exec.Progress)
	assert.Equal(t, models.ExecutionCompleted, exec.State)
}

func TestSaveExecutionDetectsStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, nil)
	require.NoError(t, err)

	stale := exec
	_, err = f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, "0-0", true)
	require.NoError(t, err)

	stale.Notes = "escrito con una copia vieja"
	err = saveExecution(f.db, &stale)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, exec.Version, stale.Version)
}

func TestExecutionConcurrentToggles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.protocol(t)
	inc := f.incident(t, nil)

	exec, err := f.engine.Executions.Start(ctx, f.supervisor, p.ID, &inc.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range p.TaskIDs() {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			_, err := f.engine.Executions.ToggleTask(ctx, f.supervisor, exec.ID, taskID, true)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	final, err := f.engine.Executions.Get(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, models.ExecutionCompleted, final.State)
	assert.Equal(t, p.TaskIDs(), final.CompletedTaskIDs)
	assert.Equal(t, len(p.TaskIDs()), final.Version)

	stored, err := f.engine.Incidents.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, stored.State)
}
