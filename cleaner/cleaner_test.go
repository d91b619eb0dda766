package cleaner_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/docmap/cleaner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeState struct {
	calls int32
	mu    sync.Mutex
	fulls []bool
}

func (f *fakeState) CleanUp(full bool) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.fulls = append(f.fulls, full)
	f.mu.Unlock()
}

func TestBounds_ValidateRejectsLowerGreaterThanUpper(t *testing.T) {
	b := cleaner.Bounds{Lower: 2 * time.Second, Upper: time.Second}
	require.Error(t, b.Validate())
}

func TestCleaner_RunsBestEffortCleanUpAtUpperBound(t *testing.T) {
	state := &fakeState{}
	c := cleaner.New(state, cleaner.Bounds{Lower: time.Millisecond, Upper: 20 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	c.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&state.calls), int32(1))
}

func TestCleaner_StopEndsRunCooperatively(t *testing.T) {
	state := &fakeState{}
	c := cleaner.New(state, cleaner.Bounds{Lower: time.Millisecond, Upper: time.Hour}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestCleaner_SetBoundsRejectsInvalid(t *testing.T) {
	state := &fakeState{}
	c := cleaner.New(state, cleaner.Bounds{Lower: time.Second, Upper: 2 * time.Second}, zap.NewNop())
	err := c.SetBounds(cleaner.Bounds{Lower: 5 * time.Second, Upper: time.Second})
	require.Error(t, err)
}
