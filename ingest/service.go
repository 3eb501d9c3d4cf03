// Package ingest validates and appends price observations to a
// company's stock series.
package ingest

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockboard/errs"
	"stockboard/models"
)

// SeriesStore is the durable side of ingestion. AppendObservations must
// be atomic: either every observation in the batch lands together with
// the version bump, or nothing is written. A version mismatch yields
// errs.KindConcurrentModification.
type SeriesStore interface {
	EnsureSeries(ctx context.Context, companyID uint) (*models.StockSeries, error)
	TimestampExists(ctx context.Context, seriesID uint, ts []time.Time) (bool, error)
	AppendObservations(ctx context.Context, seriesID uint, expectVersion uint64, obs []models.Observation, newLastTS int64) (version uint64, length int, err error)
}

// PredictionCache invalidates the cached latest prediction after an
// append changes the series version.
type PredictionCache interface {
	Invalidate(ctx context.Context, companyID uint) error
}

type Result struct {
	SeriesID uint   `json:"series_id"`
	Length   int    `json:"length"`
	Version  uint64 `json:"version"`
}

type Service struct {
	store  SeriesStore
	cache  PredictionCache
	logger zerolog.Logger
}

func NewService(store SeriesStore, cache PredictionCache) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest appends a batch to the company's series. The caller must have
// passed the authorization guard for write on the company first.
//
// Validation is fail-fast, in order: observation values, in-batch
// ordering, append position. Nothing is persisted unless every check
// passes and the optimistic version check holds.
func (s *Service) Ingest(ctx context.Context, companyID uint, batch []models.Observation, backfill bool) (Result, error) {
	if len(batch) == 0 {
		return Result{}, errs.New(errs.KindInvalidObservation, "empty batch")
	}

	for i, obs := range batch {
		if !finite(obs.Price) || obs.Price < 0 {
			return Result{}, errs.New(errs.KindInvalidObservation, "observation %d: price %v is not finite and non-negative", i, obs.Price)
		}
		if !finite(obs.Volume) || obs.Volume < 0 {
			return Result{}, errs.New(errs.KindInvalidObservation, "observation %d: volume %v is not finite and non-negative", i, obs.Volume)
		}
		if obs.Timestamp.IsZero() {
			return Result{}, errs.New(errs.KindInvalidObservation, "observation %d: missing timestamp", i)
		}
	}

	for i := 1; i < len(batch); i++ {
		if !batch[i].Timestamp.After(batch[i-1].Timestamp) {
			return Result{}, errs.New(errs.KindUnorderedBatch, "timestamps must be strictly increasing within the batch (index %d)", i)
		}
	}

	series, err := s.store.EnsureSeries(ctx, companyID)
	if err != nil {
		return Result{}, err
	}

	last := series.LastTS
	first := batch[0].Timestamp.UnixNano()
	if last != 0 && first <= last {
		if !backfill {
			return Result{}, errs.New(errs.KindOutOfOrderAppend, "batch starts at or before the series' last timestamp")
		}
		// Backfill may interleave with history but never duplicate a
		// persisted timestamp.
		var stale []time.Time
		for _, obs := range batch {
			if obs.Timestamp.UnixNano() <= last {
				stale = append(stale, obs.Timestamp)
			}
		}
		exists, err := s.store.TimestampExists(ctx, series.ID, stale)
		if err != nil {
			return Result{}, err
		}
		if exists {
			return Result{}, errs.New(errs.KindOutOfOrderAppend, "backfill duplicates an existing timestamp")
		}
	}

	newLast := batch[len(batch)-1].Timestamp.UnixNano()
	if newLast < last {
		newLast = last
	}

	version, length, err := s.store.AppendObservations(ctx, series.ID, series.Version, batch, newLast)
	if err != nil {
		return Result{}, err
	}

	// The append committed; a cache slip only delays staleness reporting
	// until the version comparison on the next read.
	if err := s.cache.Invalidate(ctx, companyID); err != nil {
		s.logger.Warn().Err(err).Uint("company_id", companyID).Msg("prediction cache invalidation failed")
	}

	s.logger.Info().
		Uint("company_id", companyID).
		Uint("series_id", series.ID).
		Int("appended", len(batch)).
		Uint64("version", version).
		Msg("batch ingested")

	return Result{SeriesID: series.ID, Length: length, Version: version}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
