package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints describing the chain itself.
type LedgerHandler struct {
	svc    *service.NotaryService
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc *service.NotaryService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
	}
}

// Overview handles GET /ledger and returns the chain height and tip hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	tip, err := h.svc.Tip(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrNotInitialized) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("ledger tip", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"height": tip.Height,
		"tip":    tip.Hash,
	})
}

// Verify handles GET /ledger/verify. It walks the full chain and reports every
// integrity failure found.
func (h *LedgerHandler) Verify(c *gin.Context) {
	errs := h.svc.ValidateChain(c.Request.Context())
	if len(errs) > 0 {
		h.logger.Warn("ledger integrity check failed", zap.Int("errors", len(errs)))
		messages := make([]string, len(errs))
		for i, e := range errs {
			messages[i] = e.Error()
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":    false,
			"errors":   errs,
			"messages": messages,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "height": h.svc.Height()})
}
