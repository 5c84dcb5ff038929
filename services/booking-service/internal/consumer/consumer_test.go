package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
)

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed int
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed += len(msgs)
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type memInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (i *memInbox) Seen(_ context.Context, eventID string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen[eventID], nil
}

func (i *memInbox) MarkApplied(_ context.Context, eventID, _ string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seen[eventID] {
		return false, nil
	}
	i.seen[eventID] = true
	return true, nil
}

func (i *memInbox) has(eventID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen[eventID]
}

type recordingInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func (r *recordingInvalidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tenants...)
}

func policyMsg(eventID, body string) kafka.Message {
	meta := kafkax.EventMeta{EventID: eventID, EventType: EventTenantPolicyUpdated}
	return kafka.Message{Topic: EventTenantPolicyUpdated, Value: []byte(body), Headers: meta.Headers()}
}

func TestConsumer_DeduplicatesAndInvalidates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := &fakeReader{msgs: make(chan kafka.Message, 4)}
	inv := &recordingInvalidator{}
	c := NewWithReader(logger, &memInbox{seen: map[string]bool{}}, reader, PolicyUpdatedHandler(inv, logger))

	reader.msgs <- policyMsg("e-1", `{"tenant_id":"acme"}`)
	reader.msgs <- policyMsg("e-1", `{"tenant_id":"acme"}`)
	reader.msgs <- policyMsg("e-2", `{"tenant_id":"globex"}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(inv.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got := inv.calls()
	if len(got) != 2 || got[0] != "acme" || got[1] != "globex" {
		t.Fatalf("unexpected invalidations %v", got)
	}
	if !reader.closed {
		t.Fatalf("reader should be closed on shutdown")
	}
}

func TestPolicyUpdatedHandler_RejectsBadPayload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := PolicyUpdatedHandler(&recordingInvalidator{}, logger)
	for _, body := range []string{`not json`, `{"tenant_id":" "}`} {
		if err := h(context.Background(), policyMsg("e", body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}

	failing := PolicyUpdatedHandler(invalidatorFunc(func(context.Context, string) error { return errors.New("redis down") }), logger)
	if err := failing(context.Background(), policyMsg("e", `{"tenant_id":"acme"}`)); err == nil {
		t.Fatalf("expected invalidation error to surface")
	}
}

type invalidatorFunc func(ctx context.Context, tenantID string) error

func (f invalidatorFunc) Invalidate(ctx context.Context, tenantID string) error { return f(ctx, tenantID) }

// flakyInvalidator fails the first `failures` calls.
type flakyInvalidator struct {
	mu       sync.Mutex
	failures int
	calls    int
	tenants  []string
}

func (f *flakyInvalidator) Invalidate(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("redis down")
	}
	f.tenants = append(f.tenants, tenantID)
	return nil
}

func (f *flakyInvalidator) snapshot() (calls int, tenants []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.tenants...)
}

func runUntil(t *testing.T, c *Consumer, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestConsumer_RetriesFailedHandlerBeforeMarking(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := &fakeReader{msgs: make(chan kafka.Message, 1)}
	inbox := &memInbox{seen: map[string]bool{}}
	inv := &flakyInvalidator{failures: 1}
	c := NewWithReader(logger, inbox, reader, PolicyUpdatedHandler(inv, logger))
	c.retryDelay = time.Millisecond

	reader.msgs <- policyMsg("e-1", `{"tenant_id":"acme"}`)
	runUntil(t, c, func() bool { return reader.commits() == 1 })

	calls, tenants := inv.snapshot()
	if calls != 2 || len(tenants) != 1 || tenants[0] != "acme" {
		t.Fatalf("calls=%d tenants=%v; want a retry that invalidates acme", calls, tenants)
	}
	if !inbox.has("e-1") {
		t.Fatalf("event should be marked once the handler succeeded")
	}
}

func TestConsumer_FailedEventIsNotMarked(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := &fakeReader{msgs: make(chan kafka.Message, 2)}
	inbox := &memInbox{seen: map[string]bool{}}
	inv := &flakyInvalidator{failures: 3}
	c := NewWithReader(logger, inbox, reader, PolicyUpdatedHandler(inv, logger))
	c.retryDelay = time.Millisecond

	reader.msgs <- policyMsg("e-1", `{"tenant_id":"acme"}`)
	runUntil(t, c, func() bool { return reader.commits() == 1 })

	if calls, tenants := inv.snapshot(); calls != 3 || len(tenants) != 0 {
		t.Fatalf("calls=%d tenants=%v; want 3 failed attempts", calls, tenants)
	}
	if inbox.has("e-1") {
		t.Fatalf("a failed event must not be marked as applied")
	}

	// A redelivery of the same event is applied once the cache is reachable again.
	reader.msgs <- policyMsg("e-1", `{"tenant_id":"acme"}`)
	runUntil(t, c, func() bool { return reader.commits() == 2 })

	if _, tenants := inv.snapshot(); len(tenants) != 1 || tenants[0] != "acme" {
		t.Fatalf("redelivery should invalidate acme, got %v", tenants)
	}
	if !inbox.has("e-1") {
		t.Fatalf("redelivered event should be marked")
	}
}
