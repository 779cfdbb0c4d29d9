package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"maintenance-portal/service-desk-backend/internal/notifications/websocket"
	"maintenance-portal/service-desk-backend/internal/observability"
	"maintenance-portal/service-desk-backend/internal/workflow"
)

// DeliveryStore persists delivery attempts
type DeliveryStore interface {
	Record(ctx context.Context, entry *DeliveryLog) error
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]DeliveryLog, error)
}

type gormDeliveryStore struct {
	db *gorm.DB
}

// NewDeliveryStore creates a gorm-backed delivery store
func NewDeliveryStore(db *gorm.DB) DeliveryStore {
	return &gormDeliveryStore{db: db}
}

func (s *gormDeliveryStore) Record(ctx context.Context, entry *DeliveryLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *gormDeliveryStore) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]DeliveryLog, error) {
	var logs []DeliveryLog
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// Pusher delivers live updates to connected browsers
type Pusher interface {
	SendToUser(userID string, message websocket.Message) error
}

// DispatcherConfig tunes delivery
type DispatcherConfig struct {
	Workers int
	// Timeout bounds a single provider call
	Timeout time.Duration
}

// Dispatcher queues committed workflow events and delivers them to each recipient
type Dispatcher struct {
	queue    Queue
	notifier Notifier
	renderer *Renderer
	store    DeliveryStore
	pusher   Pusher
	metrics  *observability.Metrics
	logger   *zap.Logger
	config   DispatcherConfig
}

// NewDispatcher creates a dispatcher; store, pusher and metrics may be nil
func NewDispatcher(queue Queue, notifier Notifier, renderer *Renderer, store DeliveryStore, pusher Pusher,
	metrics *observability.Metrics, logger *zap.Logger, config DispatcherConfig) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	return &Dispatcher{
		queue:    queue,
		notifier: notifier,
		renderer: renderer,
		store:    store,
		pusher:   pusher,
		metrics:  metrics,
		logger:   logger,
		config:   config,
	}
}

// Publish enqueues event; failures are logged and counted, never returned to the workflow
func (d *Dispatcher) Publish(ctx context.Context, event workflow.Event) {
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), event); err != nil {
		d.metrics.ObserveDropped()
		d.logger.Warn("Dropping notification event",
			zap.String("event_id", event.ID.String()),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Run consumes the queue with the configured number of workers until ctx is done
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	d.logger.Info("Notification dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.String("provider", d.notifier.Name()))
	wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		event, err := d.queue.Dequeue(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Error("Failed to dequeue notification", zap.Int("worker", worker), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.Handle(ctx, event)
	}
}

// Handle delivers event to every recipient and returns the recorded attempts
func (d *Dispatcher) Handle(ctx context.Context, event workflow.Event) []DeliveryLog {
	msg := d.renderer.Render(event)
	logs := make([]DeliveryLog, 0, len(event.Recipients))
	for _, to := range event.Recipients {
		logs = append(logs, d.deliver(ctx, event, to, msg))
		d.push(event, to, msg)
	}
	return logs
}

func (d *Dispatcher) deliver(ctx context.Context, event workflow.Event, to workflow.Recipient, msg Message) DeliveryLog {
	provider := d.notifier.Name()
	entry := DeliveryLog{
		EventID:   event.ID,
		EventKind: string(event.Kind),
		RequestID: event.RequestID,
		UserID:    to.UserID,
		Provider:  provider,
		Address:   d.notifier.Address(to),
	}
	if payload, err := json.Marshal(msg); err == nil {
		entry.Payload = datatypes.JSON(payload)
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	providerID, err := d.notifier.Notify(sendCtx, to, msg)
	cancel()
	elapsed := time.Since(start)

	entry.ProviderID = providerID
	entry.DurationMS = elapsed.Milliseconds()
	switch {
	case errors.Is(err, ErrNoAddress):
		entry.Status = StatusSkipped
	case err != nil:
		entry.Status = StatusFailed
		entry.Error = err.Error()
		d.logger.Warn("Notification delivery failed",
			zap.String("event_id", event.ID.String()),
			zap.String("user_id", to.UserID.String()),
			zap.String("provider", provider),
			zap.Error(err))
	default:
		entry.Status = StatusSent
	}
	d.metrics.ObserveDelivery(provider, entry.Status, elapsed)

	if d.store != nil {
		if err := d.store.Record(ctx, &entry); err != nil {
			d.logger.Error("Failed to record notification delivery", zap.Error(err))
		}
	}
	return entry
}

func (d *Dispatcher) push(event workflow.Event, to workflow.Recipient, msg Message) {
	if d.pusher == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"event_id":   event.ID,
		"kind":       event.Kind,
		"request_id": event.RequestID,
		"title":      event.RequestTitle,
		"station":    event.StationName,
		"subject":    msg.Subject,
		"url":        d.renderer.RequestURL(event),
	})
	if err != nil {
		return
	}
	err = d.pusher.SendToUser(to.UserID.String(), websocket.Message{
		Type:      websocket.MessageTypeNotification,
		Data:      datatypes.JSON(data),
		Timestamp: event.OccurredAt,
	})
	if err != nil && !errors.Is(err, websocket.ErrNotConnected) {
		d.logger.Debug("Websocket push failed", zap.String("user_id", to.UserID.String()), zap.Error(err))
	}
}
