package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body, signature, eventType = data, r.Header.Get(SignatureHeader), r.Header.Get(EventHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Notify(EventPayload{Type: "billing.fees.paid", Seq: 7, Attributes: map[string]string{"kind": "deposit"}}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !Verify([]byte("secret"), body, signature) {
		t.Fatalf("signature %q does not verify", signature)
	}
	if eventType != "billing.fees.paid" {
		t.Fatalf("unexpected event header %q", eventType)
	}
	var payload EventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Seq != 7 || payload.DeliveryID == "" || payload.Attributes["kind"] != "deposit" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Notify(EventPayload{Type: "wallet.account.migrated", Seq: 2}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestTopicFilter(t *testing.T) {
	dispatcher, err := NewDispatcher("http://127.0.0.1:0", []byte("secret"), WithTopics("billing.", " "))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if !dispatcher.Wants("billing.subscription.paid") || dispatcher.Wants("wallet.transfer") {
		t.Fatalf("unexpected topic filter")
	}
	if err := dispatcher.Notify(EventPayload{Type: "wallet.transfer"}); err != nil {
		t.Fatalf("filtered notify should be a no-op: %v", err)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://example.invalid", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func TestNotifyDoesNotBlockOnStalledReceiver(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	const queue = 4
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithQueueSize(queue))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	start := time.Now()
	var full bool
	for i := 0; i < queue+2; i++ {
		err := dispatcher.Notify(EventPayload{Type: "wallet.operation.executed", Seq: uint64(i + 1)})
		if errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
		if err != nil {
			t.Fatalf("notify %d: %v", i, err)
		}
	}
	if !full {
		t.Fatalf("expected the queue to fill behind a stalled receiver")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("notify blocked for %s", elapsed)
	}
}
