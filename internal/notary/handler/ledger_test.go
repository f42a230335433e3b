package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/notary/handler"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"github.com/jmerrifield20/starregistry/internal/signature"
	"go.uber.org/zap"
)

func TestLedgerOverview_200(t *testing.T) {
	h := setupStarRouter(t)
	h.register(t)

	w := h.do(http.MethodGet, "/api/v1/ledger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if int(resp["height"].(float64)) != 1 {
		t.Errorf("expected height 1, got %v", resp["height"])
	}
	if resp["tip"] == "" {
		t.Error("expected a tip hash")
	}
}

func TestLedgerOverview_503_uninitialised(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := service.NewNotaryService(chain.NewStore(nil), challenge.NewIssuer(), signature.NewBitcoinVerifier(), zap.NewNop())
	r := gin.New()
	handler.NewLedgerHandler(svc, zap.NewNop()).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ledger", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after Initialize, got %d", w.Code)
	}
}

func TestLedgerVerify_200(t *testing.T) {
	h := setupStarRouter(t)
	h.register(t)

	w := h.do(http.MethodGet, "/api/v1/ledger/verify", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}
