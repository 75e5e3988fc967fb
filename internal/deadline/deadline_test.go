package deadline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerReturnsOpResultBeforeDeadline(t *testing.T) {
	r := NewRunner(time.Now().Add(time.Second))
	res := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	assert.False(t, res.TimedOut)
	assert.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
}

func TestRunnerPropagatesOpError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRunner(time.Now().Add(time.Second))
	res := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.False(t, res.TimedOut)
	assert.Equal(t, boom, res.Err)
}

func TestRunnerTimesOutAndAbandonsOp(t *testing.T) {
	r := NewRunner(time.Now().Add(10 * time.Millisecond))
	res := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		time.Sleep(time.Second)
		return nil, nil
	})
	assert.True(t, res.TimedOut)
}

func TestRunnerWithZeroDeadlineNeverTimesOut(t *testing.T) {
	r := NewRunner(time.Time{})
	res := r.Run(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "done", nil
	})
	assert.False(t, res.TimedOut)
	assert.Equal(t, "done", res.Value)
}
