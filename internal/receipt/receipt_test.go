package receipt_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/receipt"
)

func sealedBlock() *chain.Block {
	return chain.NewBlock("body").Seal(1, time.Now(), "prev", chain.SHA256Hasher{})
}

func newIssuer(t *testing.T, secret string, ttl time.Duration) *receipt.Issuer {
	t.Helper()
	iss, err := receipt.NewIssuer([]byte(secret), "http://localhost:8000", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	iss := newIssuer(t, "test-secret", time.Hour)
	b := sealedBlock()

	tok, err := iss.Issue(b, "1Owner")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Errorf("expected a compact JWT, got %q", tok)
	}

	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Height != b.Height || claims.BlockHash != b.Hash || claims.Owner != "1Owner" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.Subject != "1Owner" {
		t.Errorf("subject: got %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Error("expected a receipt ID")
	}
}

func TestVerify_wrongSecret(t *testing.T) {
	tok, err := newIssuer(t, "secret-a", time.Hour).Issue(sealedBlock(), "1Owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newIssuer(t, "secret-b", time.Hour).Verify(tok); err == nil {
		t.Error("receipt signed with another secret must not verify")
	}
}

func TestVerify_expired(t *testing.T) {
	iss := newIssuer(t, "s", -time.Minute)
	tok, err := iss.Issue(sealedBlock(), "1Owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(tok); err == nil {
		t.Error("expired receipt must not verify")
	}
}

func TestNewIssuer_generatesSecretAndDefaultTTL(t *testing.T) {
	iss := newIssuer(t, "", 0)
	if iss.TTL() != 365*24*time.Hour {
		t.Errorf("default TTL: got %v", iss.TTL())
	}
	tok, err := iss.Issue(sealedBlock(), "1Owner")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iss.Verify(tok); err != nil {
		t.Errorf("receipt from generated secret should verify: %v", err)
	}
}

func TestIssue_nilBlock(t *testing.T) {
	if _, err := newIssuer(t, "s", time.Hour).Issue(nil, "x"); err == nil {
		t.Error("expected error for nil block")
	}
}
