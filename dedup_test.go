package aemclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoalescerSingleCallerIsOwner(t *testing.T) {
	rc := newReadCoalescer()

	resp, shared := rc.do(context.Background(), "GET:/content/a", func() *Response {
		return &Response{Success: true}
	})
	if shared {
		t.Error("sole caller should own the execution")
	}
	if resp.Meta.Coalesced {
		t.Error("owner envelope must not be marked coalesced")
	}
}

func TestCoalescerMergesConcurrentReads(t *testing.T) {
	rc := newReadCoalescer()
	var executions int32
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	responses := make([]*Response, 6)

	wg.Add(1)
	go func() {
		defer wg.Done()
		responses[0], _ = rc.do(context.Background(), "key", func() *Response {
			atomic.AddInt32(&executions, 1)
			close(started)
			<-release
			return &Response{Success: true, Data: []byte(`{"v":1}`)}
		})
	}()
	<-started

	for i := 1; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], _ = rc.do(context.Background(), "key", func() *Response {
				atomic.AddInt32(&executions, 1)
				return &Response{Success: true}
			})
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&executions); n != 1 {
		t.Errorf("expected 1 execution, got %d", n)
	}

	coalesced := 0
	for i, resp := range responses {
		if resp == nil || !resp.Success {
			t.Fatalf("response %d missing or failed", i)
		}
		if string(resp.Data) != `{"v":1}` {
			t.Errorf("response %d: wrong payload %q", i, resp.Data)
		}
		if resp.Meta.Coalesced {
			coalesced++
		}
	}
	if coalesced != 5 {
		t.Errorf("expected 5 coalesced responses, got %d", coalesced)
	}
}

func TestCoalescerCopiesErrorForWaiters(t *testing.T) {
	rc := newReadCoalescer()
	started := make(chan struct{})
	release := make(chan struct{})

	var owner, waiter *Response
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		owner, _ = rc.do(context.Background(), "key", func() *Response {
			close(started)
			<-release
			return &Response{Error: newError(KindServer, "pages", "boom", nil)}
		})
	}()
	<-started
	go func() {
		defer wg.Done()
		waiter, _ = rc.do(context.Background(), "key", func() *Response {
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if waiter.Error == owner.Error {
		t.Error("waiter must receive a cloned error, not the shared pointer")
	}
	if waiter.Error.Kind != KindServer {
		t.Errorf("expected cloned SERVER error, got %s", waiter.Error.Kind)
	}
}

func TestCoalescerWaiterContextExpiry(t *testing.T) {
	rc := newReadCoalescer()
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go rc.do(context.Background(), "key", func() *Response {
		close(started)
		<-release
		return &Response{Success: true}
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	resp, shared := rc.do(ctx, "key", func() *Response { return nil })
	if resp != nil {
		t.Error("expired waiter should receive nil")
	}
	if !shared {
		t.Error("expired waiter should still report shared")
	}
}
