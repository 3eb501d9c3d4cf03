package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
	"stockboard/models"
)

type CompanyInput struct {
	Name   string `json:"name" binding:"required"`
	ChatID int64  `json:"chat_id"`
}

func (h *Handler) CreateCompany(c *gin.Context) {
	var input CompanyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	company := models.Company{
		UserID: principal(c),
		Name:   input.Name,
		ChatID: input.ChatID,
	}
	if err := h.store.CreateCompany(c.Request.Context(), &company); err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, company)
}

// ListCompanies filters by owner at the query layer, so there is
// nothing to guard and nothing to leak.
func (h *Handler) ListCompanies(c *gin.Context) {
	companies, err := h.store.CompaniesByOwner(c.Request.Context(), principal(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, companies)
}

func (h *Handler) GetCompany(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionRead); err != nil {
		respondErr(c, err)
		return
	}

	company, err := h.store.CompanyByID(ctx, companyID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, company)
}

type CompanyUpdateInput struct {
	Name   *string `json:"name"`
	ChatID *int64  `json:"chat_id"`
}

func (h *Handler) UpdateCompany(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionWrite); err != nil {
		respondErr(c, err)
		return
	}

	var input CompanyUpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := make(map[string]interface{})
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.ChatID != nil {
		updates["chat_id"] = *input.ChatID
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.store.UpdateCompany(ctx, companyID, updates); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Company updated successfully"})
}

func (h *Handler) DeleteCompany(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionDelete); err != nil {
		respondErr(c, err)
		return
	}

	if err := h.store.DeleteCompanyCascade(ctx, companyID); err != nil {
		respondErr(c, err)
		return
	}
	// Best effort: a stale cache entry expires on its own.
	_ = h.cache.Invalidate(ctx, companyID)

	c.JSON(http.StatusOK, gin.H{"message": "Company deleted successfully"})
}
