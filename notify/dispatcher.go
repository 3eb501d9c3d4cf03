// Package notify delivers prediction and ingestion events to a chat
// channel, off the request path. Delivery failures never propagate to
// the operation that triggered them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockboard/errs"
	"stockboard/models"
)

// ErrDuplicate is returned by RecordStore.CreateRecord when a record
// for the prediction already exists.
var ErrDuplicate = errors.New("notification already recorded")

// Channel is the opaque delivery target.
type Channel interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type RecordStore interface {
	// CreateRecord inserts rec, or returns ErrDuplicate if the
	// prediction already has one.
	CreateRecord(ctx context.Context, rec *models.NotificationRecord) error
	RecordByPrediction(ctx context.Context, predictionID uint) (*models.NotificationRecord, error)
	UpdateRecord(ctx context.Context, rec *models.NotificationRecord) error
	PendingRecords(ctx context.Context, olderThan time.Time, limit int) ([]models.NotificationRecord, error)
	PredictionByID(ctx context.Context, id uint) (*models.Prediction, error)
	// CompanyChat returns the configured chat target, 0 if none.
	CompanyChat(ctx context.Context, companyID uint) (int64, error)
}

type Dispatcher struct {
	store       RecordStore
	channel     Channel
	maxAttempts uint64
	sendTimeout time.Duration
	retryBase   time.Duration
	logger      zerolog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(store RecordStore, channel Channel) *Dispatcher {
	return &Dispatcher{
		store:       store,
		channel:     channel,
		maxAttempts: 4,
		sendTimeout: 30 * time.Second,
		retryBase:   500 * time.Millisecond,
		logger:      log.With().Str("component", "notify").Logger(),
	}
}

// PredictionCompleted schedules delivery for a committed prediction.
// Returns immediately; satisfies predict.Notifier.
func (d *Dispatcher) PredictionCompleted(p *models.Prediction) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()
		d.deliverPrediction(ctx, p)
	}()
}

// IngestionFailed sends a best-effort failure notice. Ingestion errors
// carry no prediction id, so there is no idempotence record; a lost
// notice is acceptable, a blocked request is not.
func (d *Dispatcher) IngestionFailed(companyID uint, reason string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()

		chatID, err := d.store.CompanyChat(ctx, companyID)
		if err != nil || chatID == 0 {
			return
		}
		text := fmt.Sprintf("Ingestion failed for company %d: %s", companyID, reason)
		if _, err := d.send(ctx, chatID, text); err != nil {
			d.logger.Warn().Err(err).Uint("company_id", companyID).Msg("ingestion failure notice not delivered")
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and
// in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Sweep re-dispatches records stuck in pending, typically left behind
// by a crash between record creation and delivery.
func (d *Dispatcher) Sweep(ctx context.Context, olderThan time.Duration, limit int) {
	records, err := d.store.PendingRecords(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		d.logger.Error().Err(err).Msg("pending sweep query failed")
		return
	}
	for i := range records {
		rec := records[i]
		p, err := d.store.PredictionByID(ctx, rec.PredictionID)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				rec.Status = models.NotificationFailed
				_ = d.store.UpdateRecord(ctx, &rec)
			}
			continue
		}
		d.attempt(ctx, &rec, p)
	}
}

func (d *Dispatcher) deliverPrediction(ctx context.Context, p *models.Prediction) {
	chatID, err := d.store.CompanyChat(ctx, p.CompanyID)
	if err != nil {
		d.logger.Error().Err(err).Uint("company_id", p.CompanyID).Msg("chat target lookup failed")
		return
	}
	if chatID == 0 {
		return
	}

	rec := &models.NotificationRecord{
		PredictionID: p.ID,
		CompanyID:    p.CompanyID,
		Kind:         models.EventPredictionCompleted,
		Status:       models.NotificationPending,
	}
	if err := d.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Another dispatch owns this prediction; delivered means
			// done, pending/failed belongs to the sweeper.
			return
		}
		d.logger.Error().Err(err).Uint("prediction_id", p.ID).Msg("notification record create failed")
		return
	}

	d.attempt(ctx, rec, p)
}

// attempt drives the bounded-backoff send and records the outcome.
func (d *Dispatcher) attempt(ctx context.Context, rec *models.NotificationRecord, p *models.Prediction) {
	if rec.Status == models.NotificationDelivered {
		return
	}

	chatID, err := d.store.CompanyChat(ctx, rec.CompanyID)
	if err != nil || chatID == 0 {
		return
	}

	text := fmt.Sprintf("Prediction %s ready for company %d: horizon %d, model %s, values %s",
		p.PublicID, p.CompanyID, p.Horizon, p.ModelVersion, p.Values)

	attempts, sendErr := d.send(ctx, chatID, text)
	rec.Attempts += attempts

	now := time.Now().UTC()
	if sendErr == nil {
		rec.Status = models.NotificationDelivered
		rec.DeliveredAt = &now
	} else {
		rec.Status = models.NotificationFailed
		d.logger.Warn().Err(sendErr).
			Uint("prediction_id", rec.PredictionID).
			Int("attempts", rec.Attempts).
			Msg("notification delivery gave up")
	}
	if err := d.store.UpdateRecord(ctx, rec); err != nil {
		d.logger.Error().Err(err).Uint("prediction_id", rec.PredictionID).Msg("notification record update failed")
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryBase

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return d.channel.Send(ctx, chatID, text)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, d.maxAttempts-1), ctx))
	return attempts, err
}
