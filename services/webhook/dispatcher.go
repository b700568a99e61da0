// Package webhook delivers queued rotation events to subscribers at least
// once, and verifies deliveries on the receiving side.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
)

// Delivery headers. The signature is the hex HMAC of the request body;
// the event ID lets receivers deduplicate redelivery.
const (
	SignatureHeader = "X-Keygate-Signature"
	EventIDHeader   = "X-Keygate-Event-ID"
)

// Dispatcher polls the rotation event queue and delivers pending events to
// the configured subscribers. An event is marked delivered only after every
// mandatory subscriber acknowledged with a 2xx; anything less leaves it
// pending for the next lease. Duplicate deliveries are possible, loss is
// not.
type Dispatcher struct {
	events  repositories.RotationEventRepository
	cfg     config.WebhookConfig
	client  *http.Client
	logger  *zap.Logger
	work    chan *models.RotationEvent
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(events repositories.RotationEventRepository, cfg config.WebhookConfig, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		events: events,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.AttemptTimeout},
		logger: logger,
		work:   make(chan *models.RotationEvent, cfg.BatchSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the poller and delivery workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("webhook dispatcher already started")
	}

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.wg.Add(1)
	go d.poll()

	d.started = true
	d.logger.Info("started webhook dispatcher",
		zap.Int("worker_count", d.cfg.WorkerCount),
		zap.Int("subscriber_count", len(d.cfg.Subscribers)),
		zap.Duration("poll_interval", d.cfg.PollInterval))

	return nil
}

// Stop gracefully stops the dispatcher. In-flight deliveries are allowed
// to finish; unclaimed events stay in the queue for the next start.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("webhook dispatcher not started")
	}
	d.mu.Unlock()

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("webhook dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("webhook dispatcher stop timeout after %v", timeout)
	}
}

// PendingCount reports how many events await delivery.
func (d *Dispatcher) PendingCount(ctx context.Context) (int, error) {
	return d.events.PendingCount(ctx)
}

// poll claims batches of pending events and hands them to the workers.
func (d *Dispatcher) poll() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.claimBatch()
		}
	}
}

func (d *Dispatcher) claimBatch() {
	now := time.Now().UTC()
	pending, err := d.events.ListPending(d.ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("failed to list pending rotation events", zap.Error(err))
		return
	}

	for _, event := range pending {
		leaseUntil := now.Add(d.cfg.LeaseTTL)
		claimed, err := d.events.Claim(d.ctx, event.ID, now, leaseUntil)
		if err != nil {
			d.logger.Error("failed to claim rotation event",
				zap.String("event", event.ID.String()),
				zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		event.LeaseUntil = &leaseUntil

		select {
		case d.work <- event:
		case <-d.ctx.Done():
			return
		}
	}
}

// worker delivers claimed events.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("webhook worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-d.ctx.Done():
			return
		case event := <-d.work:
			d.deliver(event)
		}
	}
}

// deliver retries the event against its subscribers with bounded backoff
// until every mandatory subscriber succeeds or the claimed lease expires.
// Attempts never run past the lease written by Claim; after that the event
// belongs to whichever poller reclaims it. On lease expiry the event simply
// stays pending and is reclaimed later; nothing is ever abandoned.
func (d *Dispatcher) deliver(event *models.RotationEvent) {
	deadline := time.Now().UTC().Add(d.cfg.LeaseTTL)
	if event.LeaseUntil != nil {
		deadline = *event.LeaseUntil
	}
	backoff := d.cfg.InitialBackoff
	succeeded := make(map[string]bool, len(d.cfg.Subscribers))

	for {
		allMandatory := true
		for _, sub := range d.cfg.Subscribers {
			if succeeded[sub.Name] {
				continue
			}
			if err := d.post(sub, event); err != nil {
				d.logger.Warn("webhook delivery attempt failed",
					zap.String("event", event.ID.String()),
					zap.String("subscriber", sub.Name),
					zap.Error(err))
				if sub.Mandatory {
					allMandatory = false
				}
				continue
			}
			succeeded[sub.Name] = true
		}

		if allMandatory {
			transitioned, err := d.events.MarkDelivered(d.ctx, event.ID)
			if err != nil {
				d.logger.Error("failed to mark rotation event delivered",
					zap.String("event", event.ID.String()),
					zap.Error(err))
				return
			}
			if transitioned {
				d.logger.Info("rotation event delivered",
					zap.String("event", event.ID.String()))
			}
			return
		}

		if time.Now().UTC().Add(backoff).After(deadline) {
			d.logger.Warn("delivery lease exhausted, event stays pending",
				zap.String("event", event.ID.String()))
			return
		}

		select {
		case <-d.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}
}

// post sends one delivery attempt. Any non-2xx response is a failure.
func (d *Dispatcher) post(sub config.SubscriberConfig, event *models.RotationEvent) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, event.Signature)
	req.Header.Set(EventIDHeader, event.ID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}
