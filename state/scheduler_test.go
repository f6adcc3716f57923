package state

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRepeatTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	done := make(chan error)
	go func() {
		done <- RepeatTask(ctx, func(ctx context.Context) error {
			if count.Add(1) == 3 {
				cancel()
			}
			return nil
		}, 10*time.Millisecond, 10*time.Millisecond)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RepeatTask to stop")
	}
	assert.Equal(t, int32(3), count.Load())
}

func TestRepeatTask_StopsOnError(t *testing.T) {
	defer goleak.VerifyNone(t)
	boom := errors.New("boom")
	var count int
	err := RepeatTask(context.Background(), func(ctx context.Context) error {
		count++
		if count == 2 {
			return boom
		}
		return nil
	}, 0, time.Millisecond)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, count)
}

func TestRepeatTask_CancelledDuringDelay(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := RepeatTask(ctx, func(ctx context.Context) error {
		called = true
		return nil
	}, time.Hour, time.Hour)
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestScheduleTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	var taskCalled bool
	start := time.Now()
	err := ScheduleTask(context.Background(), func(ctx context.Context) error {
		taskCalled = true
		return nil
	}, 50*time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, taskCalled)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
