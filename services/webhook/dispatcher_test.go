package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/services/signing"
)

// memoryQueue is an in-memory rotation event queue for dispatcher tests.
type memoryQueue struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.RotationEvent
}

func newMemoryQueue(events ...*models.RotationEvent) *memoryQueue {
	q := &memoryQueue{events: make(map[uuid.UUID]*models.RotationEvent)}
	for _, e := range events {
		copied := *e
		q.events[e.ID] = &copied
	}
	return q
}

func (q *memoryQueue) Insert(ctx context.Context, event *models.RotationEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *event
	q.events[event.ID] = &copied
	return nil
}

func (q *memoryQueue) GetByID(ctx context.Context, id uuid.UUID) (*models.RotationEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.events[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, nil
}

func (q *memoryQueue) ListPending(ctx context.Context, now time.Time, limit int) ([]*models.RotationEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var pending []*models.RotationEvent
	for _, e := range q.events {
		if e.Delivered {
			continue
		}
		if e.LeaseUntil != nil && e.LeaseUntil.After(now) {
			continue
		}
		copied := *e
		pending = append(pending, &copied)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (q *memoryQueue) Claim(ctx context.Context, id uuid.UUID, now, leaseUntil time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.events[id]
	if !ok || e.Delivered {
		return false, nil
	}
	if e.LeaseUntil != nil && e.LeaseUntil.After(now) {
		return false, nil
	}
	e.LeaseUntil = &leaseUntil
	return true, nil
}

func (q *memoryQueue) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.events[id]
	if !ok || e.Delivered {
		return false, nil
	}
	e.Delivered = true
	e.LeaseUntil = nil
	return true, nil
}

func (q *memoryQueue) PendingCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, e := range q.events {
		if !e.Delivered {
			count++
		}
	}
	return count, nil
}

func (q *memoryQueue) delivered(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events[id].Delivered
}

func testConfig(subs ...config.SubscriberConfig) config.WebhookConfig {
	return config.WebhookConfig{
		Subscribers:    subs,
		PollInterval:   10 * time.Millisecond,
		LeaseTTL:       500 * time.Millisecond,
		AttemptTimeout: time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		WorkerCount:    2,
		BatchSize:      10,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newEvent(signer *signing.Signer) *models.RotationEvent {
	payload := []byte(`{"event":"key_rotated","token_prefix":"kg_successor"}`)
	return models.NewRotationEvent(uuid.New(), uuid.New(), time.Now().UTC(), payload, signer.Sign(payload))
}

func TestDispatcherDelivers(t *testing.T) {
	signer := signing.NewSigner("sign-key")
	event := newEvent(signer)

	var gotSignature, gotEventID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature.Store(r.Header.Get(SignatureHeader))
		gotEventID.Store(r.Header.Get(EventIDHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	queue := newMemoryQueue(event)
	dispatcher := NewDispatcher(queue, testConfig(
		config.SubscriberConfig{Name: "audit", URL: server.URL, Mandatory: true},
	), zap.NewNop())

	require.NoError(t, dispatcher.Start())
	defer func() { _ = dispatcher.Stop(2 * time.Second) }()

	waitFor(t, func() bool { return queue.delivered(event.ID) })

	assert.Equal(t, event.Signature, gotSignature.Load())
	assert.Equal(t, event.ID.String(), gotEventID.Load())

	count, err := dispatcher.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	signer := signing.NewSigner("sign-key")
	event := newEvent(signer)

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	queue := newMemoryQueue(event)
	dispatcher := NewDispatcher(queue, testConfig(
		config.SubscriberConfig{Name: "audit", URL: server.URL, Mandatory: true},
	), zap.NewNop())

	require.NoError(t, dispatcher.Start())
	defer func() { _ = dispatcher.Stop(2 * time.Second) }()

	waitFor(t, func() bool { return queue.delivered(event.ID) })
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestDispatcherMandatoryFailureKeepsPending(t *testing.T) {
	signer := signing.NewSigner("sign-key")
	event := newEvent(signer)

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failServer.Close()

	queue := newMemoryQueue(event)
	cfg := testConfig(
		config.SubscriberConfig{Name: "ok", URL: okServer.URL, Mandatory: true},
		config.SubscriberConfig{Name: "down", URL: failServer.URL, Mandatory: true},
	)
	cfg.LeaseTTL = 100 * time.Millisecond

	dispatcher := NewDispatcher(queue, cfg, zap.NewNop())
	require.NoError(t, dispatcher.Start())

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, dispatcher.Stop(2*time.Second))

	assert.False(t, queue.delivered(event.ID))
	count, err := queue.PendingCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcherStopsAtClaimedLease(t *testing.T) {
	signer := signing.NewSigner("sign-key")
	event := newEvent(signer)
	expired := time.Now().UTC().Add(-time.Second)
	event.LeaseUntil = &expired

	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	queue := newMemoryQueue(event)
	cfg := testConfig(config.SubscriberConfig{Name: "audit", URL: server.URL, Mandatory: true})
	cfg.LeaseTTL = 10 * time.Second

	dispatcher := NewDispatcher(queue, cfg, zap.NewNop())

	// The claimed lease already passed, so delivery makes one round of
	// attempts and leaves the event pending instead of retrying for a
	// fresh LeaseTTL window.
	start := time.Now()
	dispatcher.deliver(event)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.False(t, queue.delivered(event.ID))
}

func TestDispatcherOptionalFailureDoesNotBlock(t *testing.T) {
	signer := signing.NewSigner("sign-key")
	event := newEvent(signer)

	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failServer.Close()

	queue := newMemoryQueue(event)
	dispatcher := NewDispatcher(queue, testConfig(
		config.SubscriberConfig{Name: "mandatory", URL: okServer.URL, Mandatory: true},
		config.SubscriberConfig{Name: "optional", URL: failServer.URL, Mandatory: false},
	), zap.NewNop())

	require.NoError(t, dispatcher.Start())
	defer func() { _ = dispatcher.Stop(2 * time.Second) }()

	waitFor(t, func() bool { return queue.delivered(event.ID) })
}
