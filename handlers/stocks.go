package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
	"stockboard/errs"
	"stockboard/models"
)

// GetStocks returns the company's observation history.
func (h *Handler) GetStocks(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionRead); err != nil {
		respondErr(c, err)
		return
	}

	series, err := h.store.SeriesByCompany(ctx, companyID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			// Nothing ingested yet.
			c.JSON(http.StatusOK, gin.H{"version": 0, "length": 0, "observations": []models.StockObservation{}})
			return
		}
		respondErr(c, err)
		return
	}

	observations, err := h.store.Observations(ctx, series.ID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version":      series.Version,
		"length":       series.Length,
		"observations": observations,
	})
}
