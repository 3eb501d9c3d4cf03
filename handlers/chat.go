package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
)

// GetChat reports the company's chat target and its delivery history.
func (h *Handler) GetChat(c *gin.Context) {
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

	records, err := h.store.RecordsByCompany(ctx, companyID)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat_id":       company.ChatID,
		"notifications": records,
	})
}

type ChatInput struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

// UpdateChat points the company's notifications at a chat target.
func (h *Handler) UpdateChat(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.CheckCompany(ctx, principal(c), companyID, authz.ActionWrite); err != nil {
		respondErr(c, err)
		return
	}

	var input ChatInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpdateCompany(ctx, companyID, map[string]interface{}{"chat_id": input.ChatID}); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat target updated"})
}
