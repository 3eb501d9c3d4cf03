package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
	"stockboard/models"
)

type PredictInput struct {
	Horizon int `json:"horizon" binding:"required,min=1,max=365"`
}

type PredictionResponse struct {
	ID                  string    `json:"id"`
	CompanyID           uint      `json:"company_id"`
	Horizon             int       `json:"horizon"`
	Values              []float64 `json:"values"`
	ModelVersion        string    `json:"model_version"`
	SourceSeriesVersion uint64    `json:"source_series_version"`
	GeneratedAt         time.Time `json:"generated_at"`
	Stale               bool      `json:"stale"`
}

func toResponse(p *models.Prediction, stale bool) (PredictionResponse, error) {
	var values []float64
	if err := json.Unmarshal([]byte(p.Values), &values); err != nil {
		return PredictionResponse{}, err
	}
	return PredictionResponse{
		ID:                  p.PublicID,
		CompanyID:           p.CompanyID,
		Horizon:             p.Horizon,
		Values:              values,
		ModelVersion:        p.ModelVersion,
		SourceSeriesVersion: p.SourceSeriesVersion,
		GeneratedAt:         p.GeneratedAt,
		Stale:               stale,
	}, nil
}

// CreatePrediction computes a forecast from the series' current
// snapshot and persists it as a new prediction.
func (h *Handler) CreatePrediction(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionRead); err != nil {
		respondErr(c, err)
		return
	}

	var input PredictInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.Predict(ctx, companyID, input.Horizon)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp, err := toResponse(p, false)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetPrediction returns the latest prediction with its staleness flag,
// served from the Redis cache when a fresh copy is there.
func (h *Handler) GetPrediction(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionRead); err != nil {
		respondErr(c, err)
		return
	}

	if cached, ok := h.cache.Get(ctx, companyID); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}

	p, stale, err := h.engine.Latest(ctx, companyID)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp, err := toResponse(p, stale)
	if err != nil {
		respondErr(c, err)
		return
	}

	if payload, err := json.Marshal(resp); err == nil {
		// A stale payload stays stale, so it is always safe to cache.
		// A fresh one is cached only if the series has not moved since
		// Latest read it; an ingestion landing in between has already
		// invalidated the key, and that must not be undone here.
		if resp.Stale {
			_ = h.cache.Set(ctx, companyID, string(payload))
		} else if series, err := h.store.SeriesByCompany(ctx, companyID); err == nil && series.Version == resp.SourceSeriesVersion {
			_ = h.cache.Set(ctx, companyID, string(payload))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ListPredictions returns the retained prediction history, newest
// first.
func (h *Handler) ListPredictions(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionRead); err != nil {
		respondErr(c, err)
		return
	}

	predictions, err := h.store.PredictionsByCompany(ctx, companyID)
	if err != nil {
		respondErr(c, err)
		return
	}

	var currentVersion uint64
	if series, err := h.store.SeriesByCompany(ctx, companyID); err == nil {
		currentVersion = series.Version
	}

	out := make([]PredictionResponse, 0, len(predictions))
	for i := range predictions {
		resp, err := toResponse(&predictions[i], predictions[i].SourceSeriesVersion < currentVersion)
		if err != nil {
			respondErr(c, err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}
