package async

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingLogger) Error(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, format)
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	Go(logger, "boom", func() {
		defer close(done)
		panic("kaboom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for goroutine")
	}
	// give the deferred Recover a moment to run after close(done)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, logger.count())
}

func TestGoCatchReportsPanicAsError(t *testing.T) {
	logger := &recordingLogger{}
	result := make(chan error, 1)

	GoCatch(logger, "task", func() error {
		panic("nope")
	}, func(err error) {
		result <- err
	})

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope")
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestGoCatchReportsCleanError(t *testing.T) {
	result := make(chan error, 1)
	wantErr := errors.New("action failed")

	GoCatch(nil, "task", func() error {
		return wantErr
	}, func(err error) {
		result <- err
	})

	select {
	case err := <-result:
		assert.Equal(t, wantErr, err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestGoCatchReportsNilOnSuccess(t *testing.T) {
	result := make(chan error, 1)

	GoCatch(nil, "task", func() error {
		return nil
	}, func(err error) {
		result <- err
	})

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}
