package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectReceivesFiredArgs(t *testing.T) {
	s := New("test")
	received := make(chan []any, 1)

	s.Connect(func(args ...any) {
		received <- args
	})

	s.Fire("a", 1)

	select {
	case args := <-received:
		assert.Equal(t, []any{"a", 1}, args)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestConnectFiresOnEveryCall(t *testing.T) {
	s := New("test")
	var count int
	var mu sync.Mutex
	done := make(chan struct{}, 3)

	s.Connect(func(args ...any) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	})

	s.Fire()
	s.Fire()
	s.Fire()

	for i := 0; i < 3; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestOnceDisconnectsAfterFirstFire(t *testing.T) {
	s := New("test")
	var count int
	var mu sync.Mutex
	fired := make(chan struct{}, 1)

	s.Once(func(args ...any) {
		mu.Lock()
		count++
		mu.Unlock()
		fired <- struct{}{}
	})

	s.Fire()
	<-fired
	s.Fire()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, s.ListenerCount())
}

func TestDisconnectStopsFutureDelivery(t *testing.T) {
	s := New("test")
	calls := make(chan struct{}, 1)

	conn := s.Connect(func(args ...any) {
		calls <- struct{}{}
	})
	conn.Disconnect()
	s.Fire()

	select {
	case <-calls:
		t.Fatal("handler should not run after disconnect")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestWaitReturnsFiredArgs(t *testing.T) {
	s := New("test")
	result := make(chan []any, 1)
	errCh := make(chan error, 1)

	go func() {
		args, err := s.Wait(context.Background())
		result <- args
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Fire("done", true)

	select {
	case args := <-result:
		require.NoError(t, <-errCh)
		assert.Equal(t, []any{"done", true}, args)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	s := New("test")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock on cancellation")
	}
}

func TestFireWithNoListenersDoesNotBlock(t *testing.T) {
	s := New("test")
	done := make(chan struct{})
	go func() {
		s.Fire("x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Fire blocked with no listeners")
	}
}

func TestPanickingHandlerDoesNotAffectOthers(t *testing.T) {
	s := New("test")
	ok := make(chan struct{}, 1)

	s.Connect(func(args ...any) {
		panic("boom")
	})
	s.Connect(func(args ...any) {
		ok <- struct{}{}
	})

	s.Fire()

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("second handler should still run despite first panicking")
	}
}

func TestMultipleListenersAllReceiveFire(t *testing.T) {
	s := New("test")
	const n = 5
	received := make(chan int, n)

	for i := 0; i < n; i++ {
		s.Connect(func(args ...any) {
			received <- 1
		})
	}

	s.Fire()

	total := 0
	for i := 0; i < n; i++ {
		select {
		case <-received:
			total++
		case <-time.After(time.Second):
			t.Fatalf("only %d/%d listeners received the fire", total, n)
		}
	}
}
