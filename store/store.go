// Package store is the gorm-backed durable layer. It implements the
// narrow interfaces declared by authz, ingest, predict and notify.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"stockboard/errs"
	"stockboard/models"
	"stockboard/notify"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.User{},
		&models.Company{},
		&models.StockSeries{},
		&models.StockObservation{},
		&models.Prediction{},
		&models.NotificationRecord{},
	)
}

// --- ownership chain (authz.ChainStore) ---

func (s *Store) CompanyOwner(ctx context.Context, companyID uint) (uint, error) {
	var c models.Company
	err := s.db.WithContext(ctx).Select("user_id").First(&c, companyID).Error
	if err != nil {
		return 0, translate(err, "company", companyID)
	}
	return c.UserID, nil
}

func (s *Store) SeriesCompany(ctx context.Context, seriesID uint) (uint, error) {
	var srs models.StockSeries
	err := s.db.WithContext(ctx).Select("company_id").First(&srs, seriesID).Error
	if err != nil {
		return 0, translate(err, "series", seriesID)
	}
	return srs.CompanyID, nil
}

func (s *Store) PredictionCompany(ctx context.Context, predictionID uint) (uint, error) {
	var p models.Prediction
	err := s.db.WithContext(ctx).Select("company_id").First(&p, predictionID).Error
	if err != nil {
		return 0, translate(err, "prediction", predictionID)
	}
	return p.CompanyID, nil
}

// --- users ---

func (s *Store) DeleteUser(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Delete(&models.User{}, userID).Error
	return translate(err, "user", userID)
}

// --- companies ---

func (s *Store) CreateCompany(ctx context.Context, c *models.Company) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// CompaniesByOwner filters at the query layer; it is the listing path
// and never goes through the guard.
func (s *Store) CompaniesByOwner(ctx context.Context, ownerID uint) ([]models.Company, error) {
	var out []models.Company
	err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Order("id").Find(&out).Error
	return out, err
}

func (s *Store) CompanyByID(ctx context.Context, companyID uint) (*models.Company, error) {
	var c models.Company
	if err := s.db.WithContext(ctx).First(&c, companyID).Error; err != nil {
		return nil, translate(err, "company", companyID)
	}
	return &c, nil
}

// UpdateCompany applies name/chat changes. The owner column is never
// part of the update set.
func (s *Store) UpdateCompany(ctx context.Context, companyID uint, updates map[string]interface{}) error {
	delete(updates, "user_id")
	err := s.db.WithContext(ctx).Model(&models.Company{}).
		Where("id = ?", companyID).
		Updates(updates).Error
	return translate(err, "company", companyID)
}

// DeleteCompanyCascade removes the company and everything derived from
// it in one transaction. The cascade is explicit so nothing is left
// orphaned and nothing outside the company is touched.
func (s *Store) DeleteCompanyCascade(ctx context.Context, companyID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seriesIDs []uint
		if err := tx.Model(&models.StockSeries{}).
			Where("company_id = ?", companyID).
			Pluck("id", &seriesIDs).Error; err != nil {
			return err
		}
		if len(seriesIDs) > 0 {
			if err := tx.Where("series_id IN ?", seriesIDs).Delete(&models.StockObservation{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("company_id = ?", companyID).Delete(&models.NotificationRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("company_id = ?", companyID).Delete(&models.Prediction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("company_id = ?", companyID).Delete(&models.StockSeries{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Company{}, companyID).Error
	})
}

// --- series (ingest.SeriesStore, predict.SnapshotStore) ---

func (s *Store) EnsureSeries(ctx context.Context, companyID uint) (*models.StockSeries, error) {
	var srs models.StockSeries
	err := s.db.WithContext(ctx).
		Where(models.StockSeries{CompanyID: companyID}).
		FirstOrCreate(&srs).Error
	if err != nil {
		return nil, fmt.Errorf("ensure series for company %d: %w", companyID, err)
	}
	return &srs, nil
}

func (s *Store) SeriesByCompany(ctx context.Context, companyID uint) (*models.StockSeries, error) {
	var srs models.StockSeries
	err := s.db.WithContext(ctx).Where("company_id = ?", companyID).First(&srs).Error
	if err != nil {
		return nil, translate(err, "series of company", companyID)
	}
	return &srs, nil
}

func (s *Store) TimestampExists(ctx context.Context, seriesID uint, ts []time.Time) (bool, error) {
	if len(ts) == 0 {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&models.StockObservation{}).
		Where("series_id = ? AND timestamp IN ?", seriesID, ts).
		Count(&n).Error
	return n > 0, err
}

// AppendObservations performs the compare-and-swap append: the version
// bump only lands if the series is still at expectVersion, and the
// observation rows commit in the same transaction or not at all.
func (s *Store) AppendObservations(ctx context.Context, seriesID uint, expectVersion uint64, obs []models.Observation, newLastTS int64) (uint64, int, error) {
	var version uint64
	var length int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.StockSeries{}).
			Where("id = ? AND version = ?", seriesID, expectVersion).
			Updates(map[string]interface{}{
				"version": expectVersion + uint64(len(obs)),
				"length":  gorm.Expr("length + ?", len(obs)),
				"last_ts": newLastTS,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.KindConcurrentModification, "series %d is no longer at version %d", seriesID, expectVersion)
		}

		rows := make([]models.StockObservation, len(obs))
		for i, o := range obs {
			rows[i] = models.StockObservation{
				SeriesID:  seriesID,
				Timestamp: o.Timestamp,
				Price:     o.Price,
				Volume:    o.Volume,
			}
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("batch insert failed: %w", err)
		}

		var srs models.StockSeries
		if err := tx.Select("version", "length").First(&srs, seriesID).Error; err != nil {
			return err
		}
		version = srs.Version
		length = srs.Length
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return version, length, nil
}

// SeriesSnapshot returns the first `length` observations in insertion
// order, sorted by timestamp afterwards. Insertion order is the exact
// state at the version whose length was read, even if a backfill
// commits between the two reads.
func (s *Store) SeriesSnapshot(ctx context.Context, seriesID uint, length int) ([]models.StockObservation, error) {
	var rows []models.StockObservation
	err := s.db.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("id ASC").
		Limit(length).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

func (s *Store) Observations(ctx context.Context, seriesID uint) ([]models.StockObservation, error) {
	var rows []models.StockObservation
	err := s.db.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}

// --- predictions ---

func (s *Store) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) LatestPrediction(ctx context.Context, companyID uint) (*models.Prediction, error) {
	var p models.Prediction
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err, "prediction for company", companyID)
	}
	return &p, nil
}

func (s *Store) PredictionByID(ctx context.Context, id uint) (*models.Prediction, error) {
	var p models.Prediction
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, "prediction", id)
	}
	return &p, nil
}

func (s *Store) PredictionsByCompany(ctx context.Context, companyID uint) ([]models.Prediction, error) {
	var out []models.Prediction
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

// --- notification records (notify.RecordStore) ---

func (s *Store) CreateRecord(ctx context.Context, rec *models.NotificationRecord) error {
	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil && isDuplicate(err) {
		return notify.ErrDuplicate
	}
	return err
}

func (s *Store) RecordByPrediction(ctx context.Context, predictionID uint) (*models.NotificationRecord, error) {
	var rec models.NotificationRecord
	err := s.db.WithContext(ctx).Where("prediction_id = ?", predictionID).First(&rec).Error
	if err != nil {
		return nil, translate(err, "notification record for prediction", predictionID)
	}
	return &rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec *models.NotificationRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) PendingRecords(ctx context.Context, olderThan time.Time, limit int) ([]models.NotificationRecord, error) {
	var out []models.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.NotificationPending, olderThan).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) RecordsByCompany(ctx context.Context, companyID uint) ([]models.NotificationRecord, error) {
	var out []models.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) CompanyChat(ctx context.Context, companyID uint) (int64, error) {
	var c models.Company
	err := s.db.WithContext(ctx).Select("chat_id").First(&c, companyID).Error
	if err != nil {
		return 0, translate(err, "company", companyID)
	}
	return c.ChatID, nil
}

// translate maps store-level errors onto the domain taxonomy without
// leaking driver details upward.
func translate(err error, what string, id uint) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.New(errs.KindNotFound, "%s %d not found", what, id)
	}
	return errs.Wrap(errs.KindInternal, err, "%s %d", what, id)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key")
}
