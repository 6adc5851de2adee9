package usecase_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/records"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/records/recordstest"
	"github.com/ErlanBelekov/prospect-portal/internal/magiclink"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
	"github.com/ErlanBelekov/prospect-portal/internal/usecase"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const usersTable = "Users"

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEmailSender struct {
	send func(ctx context.Context, to, subject, body string) error
}

func (s *fakeEmailSender) Send(ctx context.Context, to, subject, body string) error {
	return s.send(ctx, to, subject, body)
}

func okSender() *fakeEmailSender {
	return &fakeEmailSender{send: func(context.Context, string, string, string) error { return nil }}
}

// ---- helpers ----

// portal is one server process: its own memory store over a shared table.
type portal struct {
	uc     *usecase.MagicLinkUsecase
	tokens *magiclink.MemoryStore
	users  *records.UserRepository
}

func newPortal(store *recordstest.Store, clock *fakeClock, sender *fakeEmailSender) *portal {
	tokens := magiclink.NewMemoryStore(clock.Now)
	users := records.NewUserRepository(store, usersTable, slog.New(slog.DiscardHandler))
	uc := usecase.NewMagicLinkUsecase(
		users,
		tokens,
		sender,
		usecase.NewLinkResolver("", "", "https://portal.example.com"),
		slog.New(slog.DiscardHandler),
		usecase.WithClock(clock.Now),
		usecase.WithTTL(24*time.Hour),
	)
	return &portal{uc: uc, tokens: tokens, users: users}
}

func putUser(store *recordstest.Store, email, status string) string {
	return store.Put(usersTable, map[string]any{
		"Email":      email,
		"First Name": "Alice",
		"Last Name":  "Liddell",
		"Company":    []any{"recCompany1"},
		"Role":       "Client",
		"Status":     status,
	})
}

func assertRejected(t *testing.T, err error, want domain.RejectReason) {
	t.Helper()
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
	var rej *domain.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("want *RejectionError, got %T", err)
	}
	if rej.Reason != want {
		t.Errorf("reason = %q, want %q", rej.Reason, want)
	}
}

// ---- Issue ----

func TestIssue_StoresAndMirrorsToken(t *testing.T) {
	store := recordstest.New()
	clock := newClock()
	id := putUser(store, "alice@example.com", "Active")
	p := newPortal(store, clock, okSender())

	link, user, err := p.uc.Issue(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != id {
		t.Errorf("user = %q, want %q", user.ID, id)
	}
	if len(link.Token) != 2*magiclink.TokenBytes {
		t.Errorf("token length = %d", len(link.Token))
	}
	if link.URL != "https://portal.example.com/auth/verify?token="+link.Token {
		t.Errorf("url = %q", link.URL)
	}
	if !link.ExpiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		t.Errorf("expires = %v", link.ExpiresAt)
	}

	entry, ok := p.tokens.Validate(link.Token)
	if !ok || entry.UserID != id {
		t.Errorf("memory entry = %+v, %v", entry, ok)
	}
	fields := store.Fields(usersTable, id)
	if fields[records.FieldMagicToken] != link.Token {
		t.Errorf("mirrored token = %v", fields[records.FieldMagicToken])
	}
	if fields[records.FieldMagicLinkURL] != link.URL {
		t.Errorf("mirrored url = %v", fields[records.FieldMagicLinkURL])
	}
}

func TestIssue_LocalOriginUsedWhenNoBaseConfigured(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	p := newPortal(store, newClock(), okSender())

	link, _, err := p.uc.Issue(context.Background(), "alice@example.com", "http://localhost:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(link.URL, "http://localhost:3000/auth/verify?token=") {
		t.Errorf("url = %q", link.URL)
	}
}

func TestIssue_UnknownAndInactiveUsersAreNotFound(t *testing.T) {
	store := recordstest.New()
	putUser(store, "bob@example.com", "Inactive")
	p := newPortal(store, newClock(), okSender())

	for _, addr := range []string{"nobody@example.com", "bob@example.com"} {
		_, _, err := p.uc.Issue(context.Background(), addr, "")
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Errorf("%s: want ErrUserNotFound, got %v", addr, err)
		}
	}
	if p.tokens.Len() != 0 {
		t.Errorf("memory store has %d entries, want 0", p.tokens.Len())
	}
}

func TestIssue_MirrorFailureIsNotFatal(t *testing.T) {
	store := recordstest.New()
	store.SetSchema(usersTable, "Email", "Status")
	putUser(store, "alice@example.com", "Active")
	p := newPortal(store, newClock(), okSender())

	link, _, err := p.uc.Issue(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.Mirrored {
		t.Error("Mirrored = true, want false when the link columns are missing")
	}
	if _, err := p.uc.Validate(context.Background(), link.Token); err != nil {
		t.Fatalf("same-process redemption should succeed from memory: %v", err)
	}
}

// ---- RequestMagicLink ----

func TestRequestMagicLink_EmailsLink(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")

	var gotTo, gotBody string
	sender := &fakeEmailSender{send: func(_ context.Context, to, _, body string) error {
		gotTo, gotBody = to, body
		return nil
	}}
	p := newPortal(store, newClock(), sender)

	if err := p.uc.RequestMagicLink(context.Background(), " Alice@Example.com ", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTo != "alice@example.com" {
		t.Errorf("to = %q, want normalized address", gotTo)
	}
	if !strings.Contains(gotBody, "https://portal.example.com/auth/verify?token=") {
		t.Errorf("body does not contain link: %s", gotBody)
	}
}

func TestRequestMagicLink_UnknownUserReportsSuccess(t *testing.T) {
	sent := false
	sender := &fakeEmailSender{send: func(context.Context, string, string, string) error {
		sent = true
		return nil
	}}
	p := newPortal(recordstest.New(), newClock(), sender)

	if err := p.uc.RequestMagicLink(context.Background(), "ghost@example.com", ""); err != nil {
		t.Fatalf("unknown address must not be reported: %v", err)
	}
	if sent {
		t.Error("no email should be sent to an unknown address")
	}
}

func TestRequestMagicLink_DeliveryFailureIsNotFatal(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	sender := &fakeEmailSender{send: func(context.Context, string, string, string) error {
		return errors.New("smtp down")
	}}
	p := newPortal(store, newClock(), sender)

	if err := p.uc.RequestMagicLink(context.Background(), "alice@example.com", ""); err != nil {
		t.Fatalf("delivery failure must not be reported: %v", err)
	}
	if p.tokens.Len() != 1 {
		t.Errorf("token should stay redeemable, store has %d entries", p.tokens.Len())
	}
}

func TestRequestMagicLink_LookupFailureIsReported(t *testing.T) {
	store := recordstest.New()
	store.FindErr = func(repository.Filter) error { return errors.New("connection refused") }
	p := newPortal(store, newClock(), okSender())

	if err := p.uc.RequestMagicLink(context.Background(), "alice@example.com", ""); err == nil {
		t.Fatal("expected error when the user table is unreachable")
	}
}

// ---- Validate ----

func TestValidate_FreshTokenSucceeds(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "alice@example.com", "Active")
	p := newPortal(store, newClock(), okSender())

	link, _, err := p.uc.Issue(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	identity, err := p.uc.Validate(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.ID != id || identity.Email != "alice@example.com" || identity.CompanyID != "recCompany1" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestValidate_SecondRedemptionInSameProcessRejected(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	p := newPortal(store, newClock(), okSender())
	link, _, _ := p.uc.Issue(context.Background(), "alice@example.com", "")

	if _, err := p.uc.Validate(context.Background(), link.Token); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	_, err := p.uc.Validate(context.Background(), link.Token)
	assertRejected(t, err, domain.RejectAlreadyUsed)
}

func TestValidate_ConcurrentRedemptionsHaveOneWinner(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	p := newPortal(store, newClock(), okSender())
	link, _, _ := p.uc.Issue(context.Background(), "alice@example.com", "")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.uc.Validate(context.Background(), link.Token); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestValidate_ExpiryBoundary(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	clock := newClock()
	p := newPortal(store, clock, okSender())

	link, _, _ := p.uc.Issue(context.Background(), "alice@example.com", "")
	late, _, _ := p.uc.Issue(context.Background(), "alice@example.com", "")

	clock.Advance(23*time.Hour + 59*time.Minute)
	if _, err := p.uc.Validate(context.Background(), link.Token); err != nil {
		t.Fatalf("validate at T0+23h59m: %v", err)
	}

	clock.Advance(2 * time.Minute)
	_, err := p.uc.Validate(context.Background(), link.Token)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Fatalf("validate at T0+24h01m: want ErrTokenInvalid, got %v", err)
	}
	_, err = p.uc.Validate(context.Background(), late.Token)
	assertRejected(t, err, domain.RejectExpired)
}

func TestValidate_ExpiredDurableTokenRejected(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	link, _, _ := issuer.uc.Issue(context.Background(), "alice@example.com", "")

	clock.Advance(24*time.Hour + time.Minute)
	other := newPortal(store, clock, okSender())

	_, err := other.uc.Validate(context.Background(), link.Token)
	assertRejected(t, err, domain.RejectExpired)
	if other.tokens.Len() != 0 {
		t.Error("expired durable token must not be backfilled")
	}
}

func TestValidate_CrossProcessRedemption(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	other := newPortal(store, clock, okSender())

	link, _, _ := issuer.uc.Issue(context.Background(), "alice@example.com", "")

	identity, err := other.uc.Validate(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("cross-process redemption: %v", err)
	}
	if identity.ID != id {
		t.Errorf("identity = %q, want %q", identity.ID, id)
	}

	entry, ok := other.tokens.Lookup(link.Token)
	if !ok {
		t.Fatal("durable hit should be backfilled into memory")
	}
	if entry.UsedAt != nil {
		t.Error("durable-path redemption must not mark the token used")
	}
	if !entry.ExpiresAt.Equal(link.ExpiresAt) {
		t.Errorf("backfilled expiry = %v, want %v", entry.ExpiresAt, link.ExpiresAt)
	}
}

func TestValidate_SchemaDriftFallsBackToURL(t *testing.T) {
	store := recordstest.New()
	store.SetSchema(usersTable, "Email", "First Name", "Last Name", "Company", "Role", "Status", records.FieldMagicLinkURL)
	id := putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	other := newPortal(store, clock, okSender())

	link, _, err := issuer.uc.Issue(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if store.Fields(usersTable, id)[records.FieldMagicLinkURL] != link.URL {
		t.Fatal("url-only mirror should have been written")
	}

	identity, err := other.uc.Validate(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("validate via url field: %v", err)
	}
	if identity.ID != id {
		t.Errorf("identity = %q, want %q", identity.ID, id)
	}

	entry, _ := other.tokens.Lookup(link.Token)
	if !entry.ExpiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		t.Errorf("missing durable expiry should default to now+24h, got %v", entry.ExpiresAt)
	}
}

func TestValidate_ScanWhenStructuredQueriesFail(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	link, _, _ := issuer.uc.Issue(context.Background(), "alice@example.com", "")

	store.FindErr = func(repository.Filter) error {
		return &domain.UnknownFieldError{Message: "formula rejected"}
	}
	other := newPortal(store, clock, okSender())

	identity, err := other.uc.Validate(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("validate via scan: %v", err)
	}
	if identity.ID != id {
		t.Errorf("identity = %q, want %q", identity.ID, id)
	}
}

func TestValidate_DisabledAccountLooksLikeNotFound(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "alice@example.com", "Active")
	clock := newClock()
	p := newPortal(store, clock, okSender())
	link, _, _ := p.uc.Issue(context.Background(), "alice@example.com", "")

	store.Set(usersTable, id, "Status", "Inactive")

	_, disabledErr := p.uc.Validate(context.Background(), link.Token)
	assertRejected(t, disabledErr, domain.RejectAccountDisabled)

	_, missingErr := p.uc.Validate(context.Background(), strings.Repeat("ab", 32))
	assertRejected(t, missingErr, domain.RejectNotFound)

	if !errors.Is(disabledErr, domain.ErrTokenInvalid) || !errors.Is(missingErr, domain.ErrTokenInvalid) {
		t.Error("both rejections must unwrap to ErrTokenInvalid")
	}
}

func TestValidate_DisabledAccountViaDurablePath(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	link, _, _ := issuer.uc.Issue(context.Background(), "alice@example.com", "")

	store.Set(usersTable, id, "Status", "Inactive")
	other := newPortal(store, clock, okSender())

	_, err := other.uc.Validate(context.Background(), link.Token)
	assertRejected(t, err, domain.RejectAccountDisabled)
}

func TestValidate_EmailNormalization(t *testing.T) {
	store := recordstest.New()
	id := putUser(store, "user@example.com", "Active")
	p := newPortal(store, newClock(), okSender())

	link, _, err := p.uc.Issue(context.Background(), " User@Example.com ", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if link.Email != "user@example.com" {
		t.Errorf("link email = %q", link.Email)
	}

	identity, err := p.uc.Validate(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.ID != id {
		t.Errorf("identity = %q, want %q", identity.ID, id)
	}
}

func TestValidate_LookupFailureFailsClosed(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	store.FindErr = func(repository.Filter) error { return context.DeadlineExceeded }
	p := newPortal(store, newClock(), okSender())

	_, err := p.uc.Validate(context.Background(), strings.Repeat("cd", 32))
	assertRejected(t, err, domain.RejectLookupFailed)
	if p.tokens.Len() != 0 {
		t.Error("nothing should be backfilled on a failed lookup")
	}
}

func TestValidate_ImplausibleTokenNeverQueriesStore(t *testing.T) {
	store := recordstest.New()
	p := newPortal(store, newClock(), okSender())

	for _, tok := range []string{"", "short", strings.Repeat("a", 40) + "\"}"} {
		_, err := p.uc.Validate(context.Background(), tok)
		assertRejected(t, err, domain.RejectNotFound)
	}
	if len(store.Calls) != 0 {
		t.Errorf("store calls = %v, want none", store.Calls)
	}
}

func TestValidate_CountsRedemptionsByPath(t *testing.T) {
	store := recordstest.New()
	putUser(store, "alice@example.com", "Active")
	clock := newClock()
	issuer := newPortal(store, clock, okSender())
	other := newPortal(store, clock, okSender())

	link, _, err := issuer.uc.Issue(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	durable := metrics.MagicLinkRedemptionsTotal.WithLabelValues("valid", "durable")
	before := testutil.ToFloat64(durable)

	if _, err := other.uc.Validate(context.Background(), link.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := testutil.ToFloat64(durable) - before; got != 1 {
		t.Errorf("durable redemptions delta = %v, want 1", got)
	}
}
