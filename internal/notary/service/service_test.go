package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/notary/model"
	"github.com/jmerrifield20/starregistry/internal/notary/service"
	"github.com/jmerrifield20/starregistry/internal/signature"
	"go.uber.org/zap"
)

var ctx = context.Background()

// ── Helpers ────────────────────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubVerifier struct {
	ok  bool
	err error
}

func (v stubVerifier) Verify(_, _, _ string) (bool, error) { return v.ok, v.err }

type fixture struct {
	svc   *service.NotaryService
	store *chain.Store
	clock *clock
}

func newFixture(t *testing.T, verifier signature.Verifier) *fixture {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	store := chain.NewStore(nil)
	svc := service.NewNotaryService(store, challenge.NewIssuerWithClock(c.Now), verifier, zap.NewNop())
	if err := svc.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: c}
}

func testStar(story string) model.Star {
	return model.Star{RA: "1", Dec: "1", Story: story}
}

func (f *fixture) submit(t *testing.T, key *signature.Key, star model.Star) *chain.Block {
	t.Helper()
	msg := f.svc.RequestOwnershipChallenge(ctx, key.Address())
	b, err := f.svc.SubmitStar(ctx, key.Address(), msg, key.SignMessage(msg), star)
	if err != nil {
		t.Fatalf("SubmitStar: %v", err)
	}
	return b
}

func newKey(t *testing.T) *signature.Key {
	t.Helper()
	k, err := signature.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// ── Initialisation ─────────────────────────────────────────────────────────

func TestInitialize_genesis(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})

	if h := f.svc.Height(); h != 0 {
		t.Fatalf("Height after Initialize: got %d, want 0", h)
	}
	g, err := f.svc.GetBlockByHeight(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if g.PreviousHash != "" {
		t.Errorf("genesis previous hash: got %q, want empty", g.PreviousHash)
	}
	if g.Record != nil {
		t.Error("genesis block must not carry a star record")
	}

	var body string
	if err := g.DecodeBody(chain.HexJSONCodec{}, &body); err != nil || body != model.GenesisBody {
		t.Errorf("genesis body: got %q (%v), want %q", body, err, model.GenesisBody)
	}
}

func TestInitialize_idempotent(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	before, _ := f.svc.GetBlockByHeight(ctx, 0)

	if err := f.svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	after, _ := f.svc.GetBlockByHeight(ctx, 0)
	if f.svc.Height() != 0 || before.Hash != after.Hash {
		t.Error("second Initialize must not change the chain")
	}
}

func TestSubmitStar_notInitialized(t *testing.T) {
	svc := service.NewNotaryService(chain.NewStore(nil), challenge.NewIssuer(), stubVerifier{ok: true}, zap.NewNop())
	msg := svc.RequestOwnershipChallenge(ctx, "addr")
	_, err := svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x"))
	if !errors.Is(err, service.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

// ── Challenge ──────────────────────────────────────────────────────────────

func TestRequestOwnershipChallenge_format(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	msg := f.svc.RequestOwnershipChallenge(ctx, "addrX")

	parts := strings.Split(msg, ":")
	if parts[0] != "addrX" || parts[len(parts)-1] != "starRegistry" {
		t.Errorf("unexpected challenge %q", msg)
	}
}

// ── Submission ─────────────────────────────────────────────────────────────

func TestSubmitStar_endToEnd(t *testing.T) {
	f := newFixture(t, signature.NewBitcoinVerifier())
	key := newKey(t)

	b := f.submit(t, key, testStar("1"))

	genesis, _ := f.svc.GetBlockByHeight(ctx, 0)
	if b.Height != 1 {
		t.Errorf("height: got %d, want 1", b.Height)
	}
	if b.PreviousHash != genesis.Hash {
		t.Errorf("previous hash: got %q, want genesis %q", b.PreviousHash, genesis.Hash)
	}

	got, err := f.svc.GetBlockByHeight(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != b.Hash {
		t.Errorf("GetBlockByHeight(1) hash: got %q, want %q", got.Hash, b.Hash)
	}
	if got.Record == nil || got.Record.Owner != key.Address() || got.Record.Star.Story != "1" {
		t.Errorf("decoded record: %+v", got.Record)
	}
}

func TestSubmitStar_chainsNSubmissions(t *testing.T) {
	f := newFixture(t, signature.NewBitcoinVerifier())
	key := newKey(t)

	const n = 5
	for i := 0; i < n; i++ {
		f.submit(t, key, testStar("story"))
	}

	if f.svc.Height() != n {
		t.Fatalf("Height: got %d, want %d", f.svc.Height(), n)
	}
	for i := 1; i <= n; i++ {
		cur, _ := f.svc.GetBlockByHeight(ctx, i)
		prev, _ := f.svc.GetBlockByHeight(ctx, i-1)
		if cur.PreviousHash != prev.Hash {
			t.Errorf("block %d not linked to block %d", i, i-1)
		}
	}
	if errs := f.svc.ValidateChain(ctx); len(errs) != 0 {
		t.Errorf("ValidateChain: %v", errs)
	}
}

func TestSubmitStar_expiredChallenge(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	f.clock.Advance(301 * time.Second)

	_, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x"))
	if !errors.Is(err, service.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	var expErr *service.ChallengeExpiredError
	if !errors.As(err, &expErr) || expErr.ElapsedSeconds != 301 || expErr.Address != "addr" {
		t.Errorf("expected ChallengeExpiredError with context, got %v", err)
	}
	if f.svc.Height() != 0 {
		t.Errorf("Height changed after expired submission: %d", f.svc.Height())
	}
}

func TestSubmitStar_windowBoundary(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})

	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	f.clock.Advance(299 * time.Second)
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); err != nil {
		t.Errorf("299s elapsed should be accepted: %v", err)
	}

	msg = f.svc.RequestOwnershipChallenge(ctx, "addr")
	f.clock.Advance(300 * time.Second)
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); !errors.Is(err, service.ErrChallengeExpired) {
		t.Errorf("300s elapsed should be rejected, got %v", err)
	}
}

func TestSubmitStar_customWindow(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	f.svc.SetChallengeWindow(10 * time.Second)

	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	f.clock.Advance(10 * time.Second)
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); !errors.Is(err, service.ErrChallengeExpired) {
		t.Errorf("expected ErrChallengeExpired with 10s window, got %v", err)
	}
}

func TestSubmitStar_invalidSignature(t *testing.T) {
	f := newFixture(t, signature.NewBitcoinVerifier())
	owner := newKey(t)
	impostor := newKey(t)

	msg := f.svc.RequestOwnershipChallenge(ctx, owner.Address())
	_, err := f.svc.SubmitStar(ctx, owner.Address(), msg, impostor.SignMessage(msg), testStar("x"))
	if !errors.Is(err, service.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if f.svc.Height() != 0 {
		t.Errorf("Height changed after invalid signature: %d", f.svc.Height())
	}
}

func TestSubmitStar_undecodableSignature(t *testing.T) {
	f := newFixture(t, stubVerifier{err: errors.New("bad base64")})
	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")

	_, err := f.svc.SubmitStar(ctx, "addr", msg, "!!", testStar("x"))
	var sigErr *service.InvalidSignatureError
	if !errors.As(err, &sigErr) || sigErr.Err == nil {
		t.Errorf("expected InvalidSignatureError wrapping the cause, got %v", err)
	}
}

func TestSubmitStar_malformedChallenge(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	_, err := f.svc.SubmitStar(ctx, "addr", "addr:notatime:starRegistry", "sig", testStar("x"))
	if !errors.Is(err, challenge.ErrMalformed) {
		t.Errorf("expected challenge.ErrMalformed, got %v", err)
	}
	if f.svc.Height() != 0 {
		t.Errorf("Height changed: %d", f.svc.Height())
	}
}

func TestSubmitStar_futureChallengeRejected(t *testing.T) {
	f := newFixture(t, signature.NewBitcoinVerifier())
	key := newKey(t)
	msg := key.Address() + ":99999999999:starRegistry"
	sig := key.SignMessage(msg)

	for year := 1; year <= 3; year++ {
		f.clock.Advance(365 * 24 * time.Hour)
		_, err := f.svc.SubmitStar(ctx, key.Address(), msg, sig, testStar("x"))
		if !errors.Is(err, challenge.ErrMalformed) {
			t.Fatalf("year %d: expected ErrMalformed for a future-dated challenge, got %v", year, err)
		}
	}
	if f.svc.Height() != 0 {
		t.Errorf("Height changed: %d", f.svc.Height())
	}
}

// zeroAgeIssuer reports every challenge as freshly issued.
type zeroAgeIssuer struct{}

func (zeroAgeIssuer) Issue(address string) string { return address + ":0:starRegistry" }

func (zeroAgeIssuer) Elapsed(*challenge.Challenge) (int64, error) { return 0, nil }

func TestSubmitStar_unparsableMessageWithPermissiveIssuer(t *testing.T) {
	svc := service.NewNotaryService(chain.NewStore(nil), zeroAgeIssuer{}, stubVerifier{ok: true}, zap.NewNop())
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := svc.SubmitStar(ctx, "addr", "not-a-challenge", "sig", testStar("x"))
	if !errors.Is(err, challenge.ErrMalformed) {
		t.Errorf("expected challenge.ErrMalformed, got %v", err)
	}
	if svc.Height() != 0 {
		t.Errorf("Height changed: %d", svc.Height())
	}
}

func TestSubmitStar_nonASCIIStory(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")

	b, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("étoile filante"))
	if err != nil {
		t.Fatalf("SubmitStar: %v", err)
	}
	view, err := f.svc.GetBlockByHeight(ctx, b.Height)
	if err != nil {
		t.Fatal(err)
	}
	if view.Record == nil || view.Record.Star.Story != "étoile filante" {
		t.Errorf("story not preserved: %+v", view.Record)
	}
}

func TestSubmitStar_addressMismatch(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	msg := f.svc.RequestOwnershipChallenge(ctx, "alice")

	_, err := f.svc.SubmitStar(ctx, "bob", msg, "sig", testStar("x"))
	if !errors.Is(err, service.ErrAddressMismatch) {
		t.Errorf("expected ErrAddressMismatch, got %v", err)
	}
}

func TestSubmitStar_invalidStar(t *testing.T) {
	cases := map[string]model.Star{
		"missing ra":     {Dec: "1", Story: "s"},
		"missing dec":    {RA: "1", Story: "s"},
		"missing story":  {RA: "1", Dec: "1"},
		"story too long": {RA: "1", Dec: "1", Story: strings.Repeat("a", 501)},
		"too many words": {RA: "1", Dec: "1", Story: strings.Repeat("a ", 251)},
	}
	for name, star := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, stubVerifier{ok: true})
			msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
			_, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", star)
			if !errors.Is(err, service.ErrInvalidStar) {
				t.Errorf("expected ErrInvalidStar, got %v", err)
			}
			if f.svc.Height() != 0 {
				t.Errorf("Height changed: %d", f.svc.Height())
			}
		})
	}
}

// ── Post-append audit ──────────────────────────────────────────────────────

// tamperingStore corrupts the snapshot it hands to the auditor.
type tamperingStore struct {
	*chain.Store
}

func (s tamperingStore) All() []*chain.Block {
	blocks := s.Store.All()
	if len(blocks) > 1 {
		blocks[1].Hash = "corrupted"
	}
	return blocks
}

func TestSubmitStar_auditIsDiagnosticOnly(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	store := tamperingStore{chain.NewStore(nil)}
	svc := service.NewNotaryService(store, challenge.NewIssuerWithClock(c.Now), stubVerifier{ok: true}, zap.NewNop())
	if err := svc.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	var auditHeight int
	var auditErrs []chain.ValidationError
	svc.SetAuditObserver(func(h int, errs []chain.ValidationError) {
		auditHeight, auditErrs = h, errs
	})

	msg := svc.RequestOwnershipChallenge(ctx, "addr")
	b, err := svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x"))
	if err != nil {
		t.Fatalf("audit failure must not fail the submission: %v", err)
	}
	if svc.Height() != 1 || b.Height != 1 {
		t.Errorf("appended block must be kept; height=%d", svc.Height())
	}
	if auditHeight != 1 || len(auditErrs) == 0 {
		t.Errorf("observer: height=%d errs=%v", auditHeight, auditErrs)
	}
	if auditErrs[0].Height != 1 {
		t.Errorf("expected audit error at height 1, got %v", auditErrs)
	}
}

func TestSubmitStar_auditObserverCleanChain(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	called := false
	f.svc.SetAuditObserver(func(_ int, errs []chain.ValidationError) {
		called = true
		if len(errs) != 0 {
			t.Errorf("unexpected audit errors: %v", errs)
		}
	})

	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("audit observer was not called")
	}
}

type recordingDispatcher struct {
	events []string
	last   map[string]string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, eventType string, payload map[string]string) {
	d.events = append(d.events, eventType)
	d.last = payload
}

func TestSubmitStar_dispatchesRegisteredEvent(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	d := &recordingDispatcher{}
	f.svc.SetEventDispatcher(d)

	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	b, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x"))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.events) != 1 || d.events[0] != "star.registered" {
		t.Fatalf("unexpected events: %v", d.events)
	}
	if d.last["hash"] != b.Hash || d.last["owner"] != "addr" || d.last["height"] != "1" {
		t.Errorf("unexpected payload: %v", d.last)
	}

	// Rejected submissions dispatch nothing.
	f.clock.Advance(time.Hour)
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); err == nil {
		t.Fatal("expected expired challenge")
	}
	if len(d.events) != 1 {
		t.Errorf("rejected submission dispatched an event: %v", d.events)
	}
}

// ── Queries ────────────────────────────────────────────────────────────────

func TestGetBlockByHash(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	b, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.GetBlockByHash(ctx, b.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if got.Height != b.Height {
		t.Errorf("height: got %d, want %d", got.Height, b.Height)
	}

	if _, err := f.svc.GetBlockByHash(ctx, "nope"); !errors.Is(err, service.ErrBlockNotFound) {
		t.Errorf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestGetBlockByHeight_notFound(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	if _, err := f.svc.GetBlockByHeight(ctx, 7); !errors.Is(err, service.ErrBlockNotFound) {
		t.Errorf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestGetStarsByOwner(t *testing.T) {
	f := newFixture(t, signature.NewBitcoinVerifier())
	alice := newKey(t)
	bob := newKey(t)

	f.submit(t, alice, testStar("first"))
	f.submit(t, bob, testStar("bob"))
	f.submit(t, alice, testStar("second"))

	stars := f.svc.GetStarsByOwner(ctx, alice.Address())
	if len(stars) != 2 {
		t.Fatalf("expected 2 stars, got %d", len(stars))
	}
	if stars[0].Star.Story != "first" || stars[1].Star.Story != "second" {
		t.Errorf("stars out of order: %+v", stars)
	}
	for _, s := range stars {
		if s.Owner != alice.Address() {
			t.Errorf("unexpected owner %q", s.Owner)
		}
		if s.Height == 0 {
			t.Error("genesis must never be returned")
		}
	}
}

func TestGetStarsByOwner_skipsUndecodableBodies(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})

	msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("before")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Append("not hex at all"); err != nil {
		t.Fatal(err)
	}
	msg = f.svc.RequestOwnershipChallenge(ctx, "addr")
	if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("after")); err != nil {
		t.Fatal(err)
	}

	stars := f.svc.GetStarsByOwner(ctx, "addr")
	if len(stars) != 2 {
		t.Fatalf("expected 2 stars, got %d", len(stars))
	}
	if stars[0].Star.Story != "before" || stars[1].Star.Story != "after" {
		t.Errorf("unexpected stars: %+v", stars)
	}

	v, err := f.svc.GetBlockByHeight(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if v.Record != nil {
		t.Error("undecodable block should be returned without a record")
	}
}

func TestGetStarsByOwner_unknownOwner(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	stars := f.svc.GetStarsByOwner(ctx, "nobody")
	if stars == nil || len(stars) != 0 {
		t.Errorf("expected empty, non-nil result; got %v", stars)
	}
}

func TestTip(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})
	tip, err := f.svc.Tip(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tip.Height != 0 {
		t.Errorf("tip height: got %d, want 0", tip.Height)
	}
}

func TestSubmitStar_concurrent(t *testing.T) {
	f := newFixture(t, stubVerifier{ok: true})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := f.svc.RequestOwnershipChallenge(ctx, "addr")
			if _, err := f.svc.SubmitStar(ctx, "addr", msg, "sig", testStar("x")); err != nil {
				t.Errorf("SubmitStar: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.svc.Height() != n {
		t.Errorf("Height: got %d, want %d", f.svc.Height(), n)
	}
	if errs := f.svc.ValidateChain(ctx); len(errs) != 0 {
		t.Errorf("ValidateChain: %v", errs)
	}
}
