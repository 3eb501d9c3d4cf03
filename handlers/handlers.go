package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"stockboard/authz"
	"stockboard/errs"
	"stockboard/ingest"
	"stockboard/models"
	"stockboard/notify"
	"stockboard/predict"
)

// Store is the durable-layer surface the handlers touch directly.
// *store.Store satisfies it.
type Store interface {
	CreateCompany(ctx context.Context, c *models.Company) error
	CompaniesByOwner(ctx context.Context, ownerID uint) ([]models.Company, error)
	CompanyByID(ctx context.Context, companyID uint) (*models.Company, error)
	UpdateCompany(ctx context.Context, companyID uint, updates map[string]interface{}) error
	DeleteCompanyCascade(ctx context.Context, companyID uint) error
	SeriesByCompany(ctx context.Context, companyID uint) (*models.StockSeries, error)
	Observations(ctx context.Context, seriesID uint) ([]models.StockObservation, error)
	PredictionsByCompany(ctx context.Context, companyID uint) ([]models.Prediction, error)
	RecordsByCompany(ctx context.Context, companyID uint) ([]models.NotificationRecord, error)
}

// PredictionCache is the latest-prediction cache surface.
// *cache.PredictionCache satisfies it.
type PredictionCache interface {
	Get(ctx context.Context, companyID uint) (string, bool)
	Set(ctx context.Context, companyID uint, payload string) error
	Invalidate(ctx context.Context, companyID uint) error
}

// Handler wires the HTTP surface to the core components.
type Handler struct {
	store      Store
	guard      *authz.Guard
	ingest     *ingest.Service
	engine     *predict.Engine
	dispatcher *notify.Dispatcher
	cache      PredictionCache
}

func New(st Store, guard *authz.Guard, ing *ingest.Service, engine *predict.Engine, dispatcher *notify.Dispatcher, pc PredictionCache) *Handler {
	return &Handler{
		store:      st,
		guard:      guard,
		ingest:     ing,
		engine:     engine,
		dispatcher: dispatcher,
		cache:      pc,
	}
}

func principal(c *gin.Context) uint {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

func companyParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("companyId"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid company id"})
		return 0, false
	}
	return uint(id), true
}

// respondErr maps domain error kinds onto transport status codes.
// Forbidden is reported as 404 so a foreign resource is
// indistinguishable from a missing one.
func respondErr(c *gin.Context, err error) {
	var domain *errs.Error
	msg := "internal error"
	if errors.As(err, &domain) {
		msg = domain.Msg
	}

	switch errs.KindOf(err) {
	case errs.KindUnauthenticated:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
	case errs.KindForbidden, errs.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errs.KindInvalidObservation, errs.KindUnorderedBatch, errs.KindOutOfOrderAppend, errs.KindInsufficientData:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": msg, "kind": errs.KindOf(err).String()})
	case errs.KindConcurrentModification:
		c.JSON(http.StatusConflict, gin.H{"error": msg, "kind": errs.KindOf(err).String()})
	case errs.KindComputationTimeout:
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Prediction timed out"})
	default:
		requestID, _ := c.Get("request_id")
		log.Error().Err(err).
			Interface("request_id", requestID).
			Str("path", c.Request.URL.Path).
			Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
