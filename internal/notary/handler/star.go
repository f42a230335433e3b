package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/notary/model"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"github.com/jmerrifield20/starregistry/internal/receipt"
	"go.uber.org/zap"
)

// StarHandler handles the ownership challenge, star submission and star
// lookup endpoints.
type StarHandler struct {
	svc      *service.NotaryService
	receipts *receipt.Issuer // nil = no receipts issued
	claimMW  gin.HandlerFunc
	logger   *zap.Logger
}

// NewStarHandler creates a new StarHandler. receipts may be nil.
func NewStarHandler(svc *service.NotaryService, receipts *receipt.Issuer, logger *zap.Logger) *StarHandler {
	return &StarHandler{svc: svc, receipts: receipts, logger: logger}
}

// SetClaimLimit installs mw in front of the challenge and submission routes.
// Must be called before Register.
func (h *StarHandler) SetClaimLimit(mw gin.HandlerFunc) {
	h.claimMW = mw
}

// Register mounts the star routes on the given router group.
func (h *StarHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/requestValidation", h.claimChain(h.RequestValidation)...)
	rg.POST("/block", h.claimChain(h.SubmitStar)...)
	rg.GET("/block/:height", h.GetBlockByHeight)

	stars := rg.Group("/stars")
	{
		stars.GET("/hash/:hash", h.GetBlockByHash)
		stars.GET("/address/:address", h.GetStarsByOwner)
	}

	rg.GET("/receipts/verify", h.VerifyReceipt)
}

func (h *StarHandler) claimChain(fn gin.HandlerFunc) []gin.HandlerFunc {
	if h.claimMW == nil {
		return []gin.HandlerFunc{fn}
	}
	return []gin.HandlerFunc{h.claimMW, fn}
}

// RequestValidation handles POST /requestValidation.
//
// Request body: {"address": "1A1zP1..."}
//
// Response: the challenge message the caller must sign.
func (h *StarHandler) RequestValidation(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := h.svc.RequestOwnershipChallenge(c.Request.Context(), req.Address)
	parsed, err := challenge.Parse(msg)
	if err != nil {
		h.logger.Error("issued challenge does not parse", zap.String("message", msg), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":        req.Address,
		"message":        msg,
		"requested_at":   parsed.IssuedAt,
		"window_seconds": int64(h.svc.ChallengeWindow().Seconds()),
	})
}

// submitRequest is the body of POST /block.
type submitRequest struct {
	Address   string     `json:"address" binding:"required"`
	Message   string     `json:"message" binding:"required"`
	Signature string     `json:"signature" binding:"required"`
	Star      model.Star `json:"star"`
}

// SubmitStar handles POST /block. It verifies the signed challenge and
// registers the star.
func (h *StarHandler) SubmitStar(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	block, err := h.svc.SubmitStar(c.Request.Context(), req.Address, req.Message, req.Signature, req.Star)
	if err != nil {
		recordSubmission(err)
		switch {
		case errors.Is(err, challenge.ErrMalformed), errors.Is(err, service.ErrInvalidStar):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrAddressMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrChallengeExpired):
			c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrNotInitialized):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			h.logger.Error("submit star", zap.String("address", req.Address), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register star"})
		}
		return
	}
	recordSubmission(nil)

	resp := gin.H{"block": block}
	if h.receipts != nil {
		tok, err := h.receipts.Issue(block, req.Address)
		if err != nil {
			// The star is already on the ledger; a missing receipt is not fatal.
			h.logger.Error("issue receipt", zap.Int("height", block.Height), zap.Error(err))
		} else {
			resp["receipt"] = tok
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// GetBlockByHeight handles GET /block/:height.
func (h *StarHandler) GetBlockByHeight(c *gin.Context) {
	height, err := strconv.Atoi(c.Param("height"))
	if err != nil || height < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "height must be a non-negative integer"})
		return
	}

	v, err := h.svc.GetBlockByHeight(c.Request.Context(), height)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetBlockByHash handles GET /stars/hash/:hash.
func (h *StarHandler) GetBlockByHash(c *gin.Context) {
	v, err := h.svc.GetBlockByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetStarsByOwner handles GET /stars/address/:address.
func (h *StarHandler) GetStarsByOwner(c *gin.Context) {
	address := c.Param("address")
	stars := h.svc.GetStarsByOwner(c.Request.Context(), address)
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"count":   len(stars),
		"stars":   stars,
	})
}

// VerifyReceipt handles GET /receipts/verify?token=... and confirms that this
// registry issued the receipt and that it still matches the ledger.
func (h *StarHandler) VerifyReceipt(c *gin.Context) {
	if h.receipts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "receipts are not enabled"})
		return
	}
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter is required"})
		return
	}

	claims, err := h.receipts.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": err.Error()})
		return
	}

	v, err := h.svc.GetBlockByHeight(c.Request.Context(), claims.Height)
	onChain := err == nil && v.Hash == claims.BlockHash
	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"on_chain":   onChain,
		"height":     claims.Height,
		"block_hash": claims.BlockHash,
		"owner":      claims.Owner,
		"issued_at":  claims.IssuedAt,
	})
}

func (h *StarHandler) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrBlockNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	h.logger.Error("block lookup", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
}
