package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/authbridge/internal/identity"
)

// fakeProvider is a controllable double with call counters.
type fakeProvider struct {
	mu            sync.Mutex
	exchangeCalls int
	currentCalls  int
	signOutCalls  int

	exchangeFn func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error)
	currentFn  func(ctx context.Context) (*identity.Principal, error)
	signOutFn  func(ctx context.Context) error
}

func (f *fakeProvider) Exchange(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
	f.mu.Lock()
	f.exchangeCalls++
	fn := f.exchangeFn
	f.mu.Unlock()
	if fn == nil {
		return &identity.Principal{ID: "p-" + req.TenantID, Username: req.TenantID}, nil
	}
	return fn(ctx, req)
}

func (f *fakeProvider) CurrentPrincipal(ctx context.Context) (*identity.Principal, error) {
	f.mu.Lock()
	f.currentCalls++
	fn := f.currentFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	fn := f.signOutFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeProvider) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchangeCalls, f.currentCalls, f.signOutCalls
}

func newTestReconciler(p Provider, timeout time.Duration) *Reconciler {
	return NewReconciler(Config{Provider: p, ExchangeTimeout: timeout})
}

func waitForStatus(t *testing.T, r *Reconciler, want identity.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Snapshot().Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q, have %q", want, r.Snapshot().Status)
}

func TestValidationNeverReachesProvider(t *testing.T) {
	fp := &fakeProvider{}
	r := newTestReconciler(fp, 0)

	before := r.Snapshot()
	_, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "", TenantID: "M1"})
	if !errors.Is(err, identity.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ex, _, _ := fp.counts(); ex != 0 {
		t.Fatalf("provider must not be called, got %d calls", ex)
	}
	if got := r.Snapshot(); got != before {
		t.Fatalf("state changed on validation error: %+v", got)
	}
}

func TestConcurrentExchangeRejected(t *testing.T) {
	release := make(chan struct{})
	fp := &fakeProvider{
		exchangeFn: func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
			<-release
			return &identity.Principal{ID: "abc", Username: req.TenantID}, nil
		},
	}
	r := newTestReconciler(fp, 0)

	done := make(chan identity.Session, 1)
	go func() {
		s, _ := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"})
		done <- s
	}()
	waitForStatus(t, r, identity.StatusAuthenticating)

	s, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T2", TenantID: "M1"})
	if !errors.Is(err, identity.ErrConcurrentAttempt) {
		t.Fatalf("expected concurrent-attempt rejection, got %v", err)
	}
	if s.Status != identity.StatusAuthenticating {
		t.Fatalf("rejection must not change state, got %q", s.Status)
	}
	if ex, _, _ := fp.counts(); ex != 1 {
		t.Fatalf("second attempt must not reach the provider, got %d calls", ex)
	}

	close(release)
	final := <-done
	if final.Status != identity.StatusAuthenticated {
		t.Fatalf("first attempt should still complete, got %q", final.Status)
	}
}

func TestExchangeRoundTrip(t *testing.T) {
	principal := &identity.Principal{ID: "p1", Username: "M1", Email: "owner@m1.example"}
	fp := &fakeProvider{
		exchangeFn: func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
			return principal, nil
		},
		currentFn: func(ctx context.Context) (*identity.Principal, error) {
			return principal, nil
		},
	}
	r := newTestReconciler(fp, 0)

	s, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != identity.StatusAuthenticated || s.Principal == nil || s.Principal.ID != "p1" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.TenantID != "M1" {
		t.Fatalf("tenant id lost: %+v", s)
	}

	s2, err := r.CheckStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s2.Status != identity.StatusAuthenticated || s2.Principal.ID != "p1" {
		t.Fatalf("checkStatus changed the principal: %+v", s2)
	}
}

func TestColdStartWithProviderSession(t *testing.T) {
	fp := &fakeProvider{
		currentFn: func(ctx context.Context) (*identity.Principal, error) {
			return &identity.Principal{ID: "abc", Username: "merchant1"}, nil
		},
	}
	r := newTestReconciler(fp, 0)
	if r.Snapshot().Status != identity.StatusUnknown {
		t.Fatalf("initial state must be unknown, got %q", r.Snapshot().Status)
	}

	ch, cancel := r.Subscribe()
	defer cancel()
	if first := <-ch; first.Status != identity.StatusUnknown {
		t.Fatalf("late subscriber must get the current value, got %q", first.Status)
	}

	s, err := r.CheckStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != identity.StatusAuthenticated || s.Principal.ID != "abc" || s.Principal.Username != "merchant1" {
		t.Fatalf("unexpected session: %+v", s)
	}

	// Exactly one publication for the one transition.
	select {
	case got := <-ch:
		if got.Status != identity.StatusAuthenticated {
			t.Fatalf("published %q, want authenticated", got.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("transition was not published")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second publication: %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestColdStartNoProviderSession(t *testing.T) {
	fp := &fakeProvider{}
	r := newTestReconciler(fp, 0)

	s, err := r.CheckStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != identity.StatusNotAuthenticated {
		t.Fatalf("expected not_authenticated, got %q", s.Status)
	}
}

func TestCheckStatusProviderFailureIsRetryable(t *testing.T) {
	boom := &identity.Error{Kind: identity.KindProviderFailure, Msg: "unreachable"}
	var fail bool
	fp := &fakeProvider{}
	fp.currentFn = func(ctx context.Context) (*identity.Principal, error) {
		if fail {
			return nil, boom
		}
		return &identity.Principal{ID: "abc"}, nil
	}
	r := newTestReconciler(fp, 0)

	fail = true
	s, err := r.CheckStatus(context.Background())
	if err == nil || s.Status != identity.StatusError {
		t.Fatalf("expected error state, got %+v (%v)", s, err)
	}
	if !errors.Is(s.Cause, identity.ErrProviderFailure) {
		t.Fatalf("cause lost: %v", s.Cause)
	}

	fail = false
	s, err = r.CheckStatus(context.Background())
	if err != nil || s.Status != identity.StatusAuthenticated {
		t.Fatalf("retry should recover, got %+v (%v)", s, err)
	}
}

func TestSignInIncompleteLeavesRetryableError(t *testing.T) {
	calls := 0
	fp := &fakeProvider{
		exchangeFn: func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
			calls++
			if calls == 1 {
				return nil, &identity.Error{Kind: identity.KindSignInIncomplete, Msg: "challenge DEVICE_PIN not supported"}
			}
			return &identity.Principal{ID: "p2", Username: req.TenantID}, nil
		},
	}
	r := newTestReconciler(fp, 0)

	s, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "tok", TenantID: "m2"})
	if !errors.Is(err, identity.ErrSignInIncomplete) {
		t.Fatalf("expected sign-in-incomplete, got %v", err)
	}
	if s.Status != identity.StatusError {
		t.Fatalf("expected error state, got %q", s.Status)
	}

	// Not stuck in authenticating: a fresh attempt is accepted.
	s, err = r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "tok2", TenantID: "m2"})
	if err != nil || s.Status != identity.StatusAuthenticated {
		t.Fatalf("fresh attempt should succeed, got %+v (%v)", s, err)
	}
}

func TestSignOutIdempotent(t *testing.T) {
	fp := &fakeProvider{}
	r := newTestReconciler(fp, 0)

	if _, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"}); err != nil {
		t.Fatal(err)
	}

	s, err := r.SignOut(context.Background())
	if err != nil || s.Status != identity.StatusNotAuthenticated {
		t.Fatalf("sign-out failed: %+v (%v)", s, err)
	}
	if _, _, so := fp.counts(); so != 1 {
		t.Fatalf("expected 1 provider sign-out, got %d", so)
	}

	s, err = r.SignOut(context.Background())
	if err != nil || s.Status != identity.StatusNotAuthenticated {
		t.Fatalf("second sign-out must succeed with no state change: %+v (%v)", s, err)
	}
	if _, _, so := fp.counts(); so != 1 {
		t.Fatalf("second sign-out must not call the provider, got %d", so)
	}
}

func TestSignOutProviderFailureDiscardsPrincipal(t *testing.T) {
	boom := &identity.Error{Kind: identity.KindProviderFailure, Msg: "signout 500"}
	fp := &fakeProvider{
		signOutFn: func(ctx context.Context) error { return boom },
	}
	r := newTestReconciler(fp, 0)
	if _, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"}); err != nil {
		t.Fatal(err)
	}

	s, err := r.SignOut(context.Background())
	if err == nil {
		t.Fatal("expected provider failure")
	}
	if s.Status != identity.StatusError {
		t.Fatalf("expected error state, got %q", s.Status)
	}
	if s.Principal != nil {
		t.Fatalf("principal must be discarded once sign-out was requested: %+v", s.Principal)
	}
}

func TestStaleResultDiscardedAfterForcedTimeout(t *testing.T) {
	fp := &fakeProvider{
		exchangeFn: func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
			time.Sleep(150 * time.Millisecond)
			return &identity.Principal{ID: "late", Username: req.TenantID}, nil
		},
	}
	r := newTestReconciler(fp, 20*time.Millisecond)

	s, err := r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"})
	if !errors.Is(err, identity.ErrTimeout) {
		t.Fatalf("expected timeout/superseded error, got %v", err)
	}
	if s.Status != identity.StatusError {
		t.Fatalf("late success must not revive the session, got %q", s.Status)
	}
	if !errors.Is(s.Cause, identity.ErrTimeout) {
		t.Fatalf("error state should carry the timeout cause, got %v", s.Cause)
	}

	// Quiescent: the published value agrees with the store.
	ch, cancel := r.Subscribe()
	defer cancel()
	if got := <-ch; got.Status != identity.StatusError {
		t.Fatalf("published state diverged: %q", got.Status)
	}
}

func TestCheckStatusNoopWhileAuthenticating(t *testing.T) {
	release := make(chan struct{})
	fp := &fakeProvider{
		exchangeFn: func(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error) {
			<-release
			return &identity.Principal{ID: "abc"}, nil
		},
	}
	r := newTestReconciler(fp, 0)

	go r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"})
	waitForStatus(t, r, identity.StatusAuthenticating)

	s, err := r.CheckStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != identity.StatusAuthenticating {
		t.Fatalf("checkStatus must be a no-op while authenticating, got %q", s.Status)
	}
	if _, cur, _ := fp.counts(); cur != 0 {
		t.Fatalf("provider read must not race the in-flight write, got %d calls", cur)
	}
	close(release)
	waitForStatus(t, r, identity.StatusAuthenticated)
}

func TestPublisherNeverDivergesFromStore(t *testing.T) {
	fp := &fakeProvider{
		currentFn: func(ctx context.Context) (*identity.Principal, error) { return nil, nil },
	}
	r := newTestReconciler(fp, 0)
	ch, cancel := r.Subscribe()
	defer cancel()

	ops := []func(){
		func() { r.CheckStatus(context.Background()) },
		func() {
			r.BeginExchange(context.Background(), identity.ExchangeRequest{ExternalToken: "T1", TenantID: "M1"})
		},
		func() { r.SignOut(context.Background()) },
		func() { r.CheckStatus(context.Background()) },
	}
	for _, op := range ops {
		op()
		// Quiescent point: drain to the latest published value and compare.
		var last identity.Session
		gotOne := false
		for {
			select {
			case v := <-ch:
				last, gotOne = v, true
				continue
			default:
			}
			break
		}
		if gotOne && last != r.Snapshot() {
			t.Fatalf("published %+v, store has %+v", last, r.Snapshot())
		}
	}
}
