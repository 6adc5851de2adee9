package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type formsUsecaser interface {
	Submit(ctx context.Context, identity *domain.Identity, form string, fields map[string]any) (*domain.FormSubmission, error)
}

// PortalHandler serves the signed-in API.
type PortalHandler struct {
	forms  formsUsecaser
	logger *slog.Logger
}

func NewPortalHandler(forms formsUsecaser, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{forms: forms, logger: logger.With("component", "portal_handler")}
}

// GET /api/me
func (h *PortalHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}
	c.JSON(http.StatusOK, identity)
}

// POST /api/forms/:form
func (h *PortalHandler) SubmitForm(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	form := c.Param("form")
	res, err := h.forms.Submit(c.Request.Context(), identity, form, fields)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownForm) {
			c.JSON(http.StatusNotFound, gin.H{"error": errFormNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "submit form", "form", form, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusCreated, res)
}
