// Package predict computes and persists forecasts over stock series
// snapshots.
package predict

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockboard/errs"
	"stockboard/models"
)

// MinObservations is the policy floor below which a series cannot be
// forecast.
const MinObservations = 3

// DefaultTimeout bounds a single forecast computation.
const DefaultTimeout = 10 * time.Second

// SnapshotStore reads a consistent view of a series and persists the
// resulting prediction. SeriesSnapshot must return exactly the first
// `length` observations in timestamp order; because appends only add
// later points, that prefix is the series as it was at the version the
// caller read.
type SnapshotStore interface {
	SeriesByCompany(ctx context.Context, companyID uint) (*models.StockSeries, error)
	SeriesSnapshot(ctx context.Context, seriesID uint, length int) ([]models.StockObservation, error)
	CreatePrediction(ctx context.Context, p *models.Prediction) error
	LatestPrediction(ctx context.Context, companyID uint) (*models.Prediction, error)
}

// Notifier receives completion events after the prediction has been
// committed. Implementations must not block the caller.
type Notifier interface {
	PredictionCompleted(p *models.Prediction)
}

type Engine struct {
	store    SnapshotStore
	fc       Forecaster
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewEngine(store SnapshotStore, fc Forecaster, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		fc:       fc,
		notifier: notifier,
		timeout:  DefaultTimeout,
		logger:   log.With().Str("component", "predict").Logger(),
	}
}

// Predict computes `horizon` forward values from the series' current
// snapshot and persists them as a new immutable Prediction. Concurrent
// calls never block each other; each takes its own snapshot.
func (e *Engine) Predict(ctx context.Context, companyID uint, horizon int) (*models.Prediction, error) {
	if horizon < 1 {
		return nil, errs.New(errs.KindComputationError, "horizon must be positive, got %d", horizon)
	}

	series, err := e.store.SeriesByCompany(ctx, companyID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, errs.New(errs.KindInsufficientData, "company %d has no stock series", companyID)
		}
		return nil, err
	}
	if series.Length < MinObservations {
		return nil, errs.New(errs.KindInsufficientData, "series has %d observations, need at least %d", series.Length, MinObservations)
	}

	snapshot, err := e.store.SeriesSnapshot(ctx, series.ID, series.Length)
	if err != nil {
		return nil, err
	}

	prices := make([]float64, len(snapshot))
	for i, obs := range snapshot {
		prices[i] = obs.Price
	}

	values, err := e.forecast(ctx, prices, horizon)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "encoding forecast values")
	}

	p := &models.Prediction{
		PublicID:            uuid.NewString(),
		CompanyID:           companyID,
		SeriesID:            series.ID,
		Horizon:             horizon,
		Values:              string(encoded),
		ModelVersion:        e.fc.Version(),
		SourceSeriesVersion: series.Version,
		GeneratedAt:         time.Now().UTC(),
	}
	if err := e.store.CreatePrediction(ctx, p); err != nil {
		return nil, err
	}

	e.logger.Info().
		Uint("company_id", companyID).
		Int("horizon", horizon).
		Uint64("series_version", series.Version).
		Str("prediction_id", p.PublicID).
		Msg("prediction generated")

	if e.notifier != nil {
		e.notifier.PredictionCompleted(p)
	}
	return p, nil
}

// Latest returns the newest prediction for the company together with
// its staleness relative to the series' current version.
func (e *Engine) Latest(ctx context.Context, companyID uint) (*models.Prediction, bool, error) {
	p, err := e.store.LatestPrediction(ctx, companyID)
	if err != nil {
		return nil, false, err
	}
	series, err := e.store.SeriesByCompany(ctx, companyID)
	if err != nil {
		return nil, false, err
	}
	return p, p.SourceSeriesVersion < series.Version, nil
}

// forecast runs the model off the request goroutine so the deadline can
// abandon a runaway computation. The committed state is untouched either
// way; an abandoned run simply never persists.
func (e *Engine) forecast(ctx context.Context, prices []float64, horizon int) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		values []float64
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := e.fc.Forecast(prices, horizon)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, errs.Wrap(errs.KindComputationError, r.err, "forecast model failed")
		}
		for i, v := range r.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errs.New(errs.KindComputationError, "model produced non-finite value at step %d", i+1)
			}
		}
		return r.values, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.KindComputationTimeout, ctx.Err(), "forecast exceeded %s", e.timeout)
		}
		return nil, errs.Wrap(errs.KindInternal, ctx.Err(), "forecast canceled")
	}
}
