package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// hold occupies one slot of b until release is closed.
func hold(t *testing.T, b *Bulkhead) (release func()) {
	t.Helper()
	started := make(chan struct{})
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Execute(context.Background(), func() error {
			close(started)
			<-stop
			return nil
		})
	}()
	<-started
	return func() {
		close(stop)
		<-done
	}
}

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "blocks", MaxConcurrent: 2, Queue: true})

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds 2 slots", peak)
	}
	if b.InUse() != 0 {
		t.Errorf("expected all slots released, %d in use", b.InUse())
	}
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "strict", MaxConcurrent: 1})
	release := hold(t, b)
	defer release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
}

func TestBulkhead_QueueWaitsUntilSlotFrees(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "queue", MaxConcurrent: 1, Queue: true})
	release := hold(t, b)

	ran := make(chan error, 1)
	go func() {
		ran <- b.Execute(context.Background(), func() error { return nil })
	}()

	select {
	case <-ran:
		t.Fatal("queued call ran while the slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	if err := <-ran; err != nil {
		t.Errorf("queued call: %v", err)
	}
}

func TestBulkhead_QueueRespectsContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "queue", MaxConcurrent: 1, Queue: true})
	release := hold(t, b)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func() error {
		t.Error("function must not run")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestBulkhead_CanceledContextNeverRuns(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, Queue: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected Canceled, got %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{})
	if b.MaxConcurrent() != 10 {
		t.Errorf("expected default of 10 slots, got %d", b.MaxConcurrent())
	}
	v, err := ExecuteWithResult(b, context.Background(), func() (string, error) {
		return "output_0", nil
	})
	if err != nil || v != "output_0" {
		t.Errorf("got (%q, %v)", v, err)
	}

	boom := errors.New("boom")
	if _, err := ExecuteWithResult(b, context.Background(), func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
