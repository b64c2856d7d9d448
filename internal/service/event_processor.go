package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// EventStore is the event persistence surface.
type EventStore interface {
	SaveEvent(ctx context.Context, event *models.Event) error
	SaveEventBatch(ctx context.Context, envelopes []models.EventEnvelope) error
	DeleteOldEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventQueue is the buffering queue between event producers and the batch
// writer.
type EventQueue interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Length(ctx context.Context) (int64, error)
}

// EventProcessor writes observability events. High-volume producers enqueue
// and a background batcher drains the queue on an interval; low-volume
// lifecycle events are written directly.
type EventProcessor struct {
	store  EventStore
	queue  EventQueue
	bus    Publisher
	cfg    models.EventConfig
	logger *logrus.Logger

	// processing makes batch runs single-flight. A tick that arrives while
	// a batch is still being written is skipped, not queued.
	processing atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEventProcessor(store EventStore, queue EventQueue, publisher Publisher, cfg models.EventConfig, logger *logrus.Logger) *EventProcessor {
	return &EventProcessor{
		store:  store,
		queue:  queue,
		bus:    publisher,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Record inserts an event immediately and publishes it to the team channel.
func (p *EventProcessor) Record(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error {
	event := &models.Event{
		TeamID:    tenant.TeamID,
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.SaveEvent(ctx, event); err != nil {
		return apperrors.NewStorageError("save event", err)
	}

	if err := p.bus.PublishTeam(ctx, tenant.TeamID, "whatsapp_event", sessionID, map[string]interface{}{
		"eventType": eventType,
		"data":      data,
		"timestamp": event.Timestamp,
	}); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldTeam:  tenant.TeamID,
			LogFieldEvent: eventType,
		}).Warn("Failed to publish event")
	}
	return nil
}

// Enqueue defers an event to the batch pipeline.
func (p *EventProcessor) Enqueue(ctx context.Context, tenant models.TenantContext, sessionID, eventType string, data map[string]interface{}) error {
	envelope := models.EventEnvelope{
		Tenant:    tenant,
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal event envelope")
	}
	if err := p.queue.Push(ctx, payload); err != nil {
		return apperrors.NewStorageError("enqueue event", err)
	}
	return nil
}

// Run starts the batch loop. It returns immediately; the loop stops when
// ctx is cancelled or Stop is called.
func (p *EventProcessor) Run(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.ProcessInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := p.ProcessBatch(ctx); err != nil {
					p.logger.WithError(err).Error("Event batch failed")
				}
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and flushes whatever is still queued.
func (p *EventProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.ProcessBatch(flushCtx); err != nil {
		p.logger.WithError(err).Warn("Final event flush failed")
	}
}

// ProcessBatch drains up to the configured batch size from the queue and
// writes the envelopes grouped per team, so each group's insert runs under
// its own tenant. Single-flight: a call that overlaps a running batch
// returns immediately.
func (p *EventProcessor) ProcessBatch(ctx context.Context) (int, error) {
	if !p.processing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer p.processing.Store(false)

	groups := make(map[string][]models.EventEnvelope)
	drained := 0
	for drained < p.cfg.BatchSize {
		payload, err := p.queue.Pop(ctx, 0)
		if err != nil {
			return drained, apperrors.NewStorageError("dequeue event", err)
		}
		if payload == nil {
			break
		}
		var envelope models.EventEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			p.logger.WithError(err).Warn("Dropping malformed event envelope")
			continue
		}
		groups[envelope.Tenant.TeamID] = append(groups[envelope.Tenant.TeamID], envelope)
		drained++
	}
	if drained == 0 {
		return 0, nil
	}

	written := 0
	for teamID, envelopes := range groups {
		tctx := models.WithTenant(ctx, envelopes[0].Tenant)
		if err := p.store.SaveEventBatch(tctx, envelopes); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				LogFieldTeam:  teamID,
				LogFieldCount: len(envelopes),
			}).Error("Failed to write event batch")
			continue
		}
		written += len(envelopes)
	}

	p.logger.WithFields(logrus.Fields{
		LogFieldComponent: "event_processor",
		LogFieldCount:     written,
	}).Debug("Event batch written")
	return written, nil
}

// CleanupOldEvents purges processed events past the retention window.
// Intended to run under a system tenant from the scheduler.
func (p *EventProcessor) CleanupOldEvents(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.RetentionDays)
	deleted, err := p.store.DeleteOldEvents(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.logger.WithFields(logrus.Fields{
			LogFieldJob:   "event_retention",
			LogFieldCount: deleted,
		}).Info("Purged old events")
	}
	return deleted, nil
}
