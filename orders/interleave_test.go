package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplemes/errs"
)

type executeResult struct {
	res *ExecuteResult
	err error
}

func TestConcurrentExecuteStepRunsDevicesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.gw.onRead = func(int) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan executeResult, 1)
	go func() {
		res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
		done <- executeResult{res, err}
	}()
	<-entered

	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("bob"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errs.ErrConflict))
	assert.Equal(t, errs.CodeStepClaimed, errs.CodeOf(err))
	reads, _ := f.gw.counts()
	assert.Equal(t, 1, reads, "a rejected run must not touch the devices")

	close(release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, StatusInProgress, first.res.Order.Status)
	assert.Equal(t, StepCompleted, first.res.OrderStep.Status)
	require.NotNil(t, first.res.NextStep)

	n, err := f.db.CountActionLogs(ctx, o.ID, f.readID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{StatusInProgress}, assertHistoryPath(t, f, o.ID))
}

func TestPauseDuringLastStepCompletesOnResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)
	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)

	f.gw.onWrite = func(int) {
		_, err := f.svc.Pause(ctx, o.ID, "bob", "shift change")
		assert.NoError(t, err)
	}
	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, res.Order.Status)
	assert.Equal(t, StepCompleted, res.OrderStep.Status)
	assert.Nil(t, res.NextStep)
	f.gw.onWrite = nil

	r, err := f.svc.Resume(ctx, o.ID, "", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Nil(t, r.CurrentStepID)
	assert.Equal(t,
		[]string{StatusInProgress, StatusPaused, StatusInProgress, StatusCompleted},
		assertHistoryPath(t, f, o.ID))

	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	st, err := f.states.Active(ctx, "WS-001")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCancelDuringStepKeepsEvidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	var once sync.Once
	f.gw.onRead = func(int) {
		once.Do(func() {
			_, err := f.svc.Cancel(ctx, o.ID, "supervisor", "line stop")
			assert.NoError(t, err)
		})
	}
	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Order.Status)
	assert.Equal(t, StepCompleted, res.OrderStep.Status)
	assert.Nil(t, res.NextStep)

	n, err := f.db.CountActionLogs(ctx, o.ID, f.readID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{StatusInProgress, StatusCancelled}, assertHistoryPath(t, f, o.ID))

	steps, err := f.db.ListOrderSteps(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StepPending, steps[1].Status)

	st, err := f.states.Active(ctx, "WS-001")
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestResumeDuringRunDiscardsStaleResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	var once sync.Once
	f.gw.onRead = func(int) {
		once.Do(func() {
			_, err := f.svc.Pause(ctx, o.ID, "bob", "")
			require.NoError(t, err)
			_, err = f.svc.Resume(ctx, o.ID, "", "bob", "")
			require.NoError(t, err)
		})
	}
	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, errs.CodeStepClaimed, errs.CodeOf(err))

	steps, err := f.db.ListOrderSteps(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StepInProgress, steps[0].Status)
	n, err := f.db.CountActionLogs(ctx, o.ID, f.readID)
	require.NoError(t, err)
	assert.Zero(t, n, "the stale run's logs are rolled back")

	f.gw.onRead = nil
	res, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, res.OrderStep.Status)
	assert.Equal(t,
		[]string{StatusInProgress, StatusPaused, StatusInProgress},
		assertHistoryPath(t, f, o.ID))
}
