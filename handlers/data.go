package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
	"stockboard/errs"
	"stockboard/models"
)

type IngestInput struct {
	Observations []models.Observation `json:"observations" binding:"required"`
	Backfill     bool                 `json:"backfill"`
}

// IngestData appends a validated batch to the company's stock series.
// Validation failures are reported to the company's chat target as
// well, without delaying the response.
func (h *Handler) IngestData(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionWrite); err != nil {
		respondErr(c, err)
		return
	}

	var input IngestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ingest.Ingest(ctx, companyID, input.Observations, input.Backfill)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindInvalidObservation, errs.KindUnorderedBatch, errs.KindOutOfOrderAppend:
			var domain *errs.Error
			if errors.As(err, &domain) {
				h.dispatcher.IngestionFailed(companyID, domain.Msg)
			}
		}
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}
