package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/projecthub/pkg/errors"
)

// fakeAPI issues tokens the way the auth service does: the access token
// lives accessTTL from the refresh, the refresh ceiling never moves.
type fakeAPI struct {
	mu        sync.Mutex
	clock     *virtualScheduler
	accessTTL time.Duration
	refreshes []time.Time
	logouts   int
	revoked   []string
	fail      error
	n         int
	// onRefresh runs inside Refresh, before it returns.
	onRefresh func()
	ceiling   time.Time
}

func (a *fakeAPI) Refresh(_ context.Context, token string) (*Tokens, error) {
	if a.onRefresh != nil {
		a.onRefresh()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	a.refreshes = append(a.refreshes, now)
	if a.fail != nil {
		return nil, a.fail
	}
	a.n++
	return &Tokens{
		AccessToken:      fmt.Sprintf("access-%d", a.n),
		AccessExpiresAt:  now.Add(a.accessTTL),
		RefreshToken:     fmt.Sprintf("refresh-%d", a.n),
		RefreshExpiresAt: a.ceiling,
	}, nil
}

func (a *fakeAPI) Logout(_ context.Context, _, refreshToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	a.revoked = append(a.revoked, refreshToken)
	return nil
}

func (a *fakeAPI) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.refreshes)
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Redirect(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.routes)
}

type harness struct {
	m     *Monitor
	clock *virtualScheduler
	api   *fakeAPI
	nav   *recordingNavigator
	src   *fakeSource
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckInterval = 5 * time.Second
	cfg.IdleThreshold = 2 * time.Minute
	cfg.AutoLogoutDelay = 3 * time.Minute
	cfg.ActivityThrottle = time.Second
	cfg.RefreshAtFraction = 0.5
	return cfg
}

func newHarness(t *testing.T, accessTTL, refreshTTL time.Duration) *harness {
	t.Helper()
	clock := newVirtualScheduler(t0)
	api := &fakeAPI{clock: clock, accessTTL: accessTTL, ceiling: t0.Add(refreshTTL)}
	nav := &recordingNavigator{}
	src := &fakeSource{}

	m := NewMonitor(testConfig(), MonitorOptions{API: api, Navigator: nav, Source: src, Scheduler: clock})
	return &harness{m: m, clock: clock, api: api, nav: nav, src: src}
}

func (h *harness) start() {
	h.m.Start(context.Background(), LoginResult{
		User: User{ID: "u-1", Email: "mia@example.com", Name: "Mia", Role: "MEMBER"},
		Tokens: Tokens{
			AccessToken:      "access-0",
			AccessExpiresAt:  t0.Add(h.api.accessTTL),
			RefreshToken:     "refresh-0",
			RefreshExpiresAt: h.api.ceiling,
		},
	})
}

// activeFor advances the clock by d in steps, with a trusted keypress after each.
func (h *harness) activeFor(d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.clock.Advance(step)
		h.src.emit(Event{Name: EventKeyDown, Trusted: true, At: h.clock.Now()})
	}
}

func (h *harness) state() State { return h.m.Snapshot().State }

func TestMonitor_StartIsActiveAndAttached(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()

	snap := h.m.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.Authenticated)
	assert.False(t, snap.ModalVisible)
	require.NotNil(t, snap.User)
	assert.Equal(t, "u-1", snap.User.ID)
	assert.True(t, h.src.attached())
	// Check ticker and absolute ceiling.
	assert.Equal(t, 2, h.clock.Pending())
}

func TestMonitor_IdleShowsWarningThenLogsOut(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()

	h.clock.Advance(2*time.Minute - time.Second)
	assert.Equal(t, StateActive, h.state())

	h.clock.Advance(time.Second)
	snap := h.m.Snapshot()
	assert.Equal(t, StateWarning, snap.State)
	assert.True(t, snap.ModalVisible)
	assert.Equal(t, t0.Add(5*time.Minute), snap.AutoLogoutDeadline)

	h.clock.Advance(3*time.Minute - time.Second)
	assert.Equal(t, StateWarning, h.state())
	assert.Equal(t, 0, h.nav.count())

	h.clock.Advance(time.Second)
	snap = h.m.Snapshot()
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.False(t, snap.Authenticated)
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.RefreshExpiresAt)
	assert.Equal(t, []string{"/login"}, h.nav.routes)
	assert.False(t, h.src.attached())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.api.refreshCount())
	assert.Equal(t, []string{"refresh-0"}, h.api.revoked, "auto-logout revokes the session on the server")
}

func TestMonitor_ActivityInWarningDoesNotDismissModal(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()
	h.clock.Advance(2 * time.Minute)
	require.Equal(t, StateWarning, h.state())

	h.activeFor(30*time.Second, 5*time.Second)
	assert.Equal(t, StateWarning, h.state())
}

func TestMonitor_ContinueResetsIdleAndCancelsAutoLogout(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()
	h.clock.Advance(2 * time.Minute)
	require.Equal(t, StateWarning, h.state())

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.m.Continue(context.Background()))

	snap := h.m.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.False(t, snap.ModalVisible)
	assert.True(t, snap.AutoLogoutDeadline.IsZero())
	assert.Equal(t, h.clock.Now(), snap.LastActivity)
	assert.Equal(t, 1, h.api.refreshCount())

	tok, err := h.m.AccessToken()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	// The original auto-logout was due at t0+5m. It must not fire.
	h.clock.Advance(2*time.Minute + 31*time.Second)
	assert.Equal(t, StateWarning, h.state(), "idle again two minutes after continue")
	assert.Equal(t, 0, h.nav.count())
	// Warning again at t0+4m30s, so the new countdown ends three minutes later.
	assert.Equal(t, t0.Add(7*time.Minute+30*time.Second), h.m.Snapshot().AutoLogoutDeadline)
}

func TestMonitor_ContinueOutsideWarning(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()

	assert.ErrorIs(t, h.m.Continue(context.Background()), ErrNotWarning)
	assert.Equal(t, StateActive, h.state())
}

func TestMonitor_ContinueAbandonedKeepsCountdown(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 10*time.Minute)
	h.start()

	entered, release := make(chan struct{}), make(chan struct{})
	h.api.onRefresh = func() {
		close(entered)
		<-release
	}
	background := make(chan error, 1)
	go func() { background <- h.m.refresh(context.Background()) }()
	<-entered

	h.clock.Advance(2 * time.Minute)
	require.Equal(t, StateWarning, h.state())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.m.Continue(ctx), context.Canceled)

	snap := h.m.Snapshot()
	assert.Equal(t, StateWarning, snap.State)
	assert.True(t, snap.ModalVisible)
	assert.Equal(t, t0.Add(5*time.Minute), snap.AutoLogoutDeadline)
	assert.Equal(t, 2, h.clock.Pending(), "auto-logout and ceiling still armed")

	h.clock.Advance(3 * time.Minute)
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, []string{"/login"}, h.nav.routes)
	assert.Equal(t, 0, h.clock.Pending())

	close(release)
	assert.ErrorIs(t, <-background, ErrSessionEnded)
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, 1, h.nav.count())
}

func TestMonitor_ContinueWithFailedRefreshLogsOut(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.api.fail = apperrors.AuthenticationFailed()
	h.start()
	h.clock.Advance(2 * time.Minute)

	err := h.m.Continue(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthenticated))
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, 1, h.nav.count())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestMonitor_ProactiveRefreshAtHalfLife(t *testing.T) {
	h := newHarness(t, 2*time.Minute, 8*time.Hour)
	h.start()

	h.activeFor(55*time.Second, 5*time.Second)
	assert.Equal(t, 0, h.api.refreshCount())

	h.activeFor(5*time.Second, 5*time.Second)
	require.Equal(t, 1, h.api.refreshCount())
	assert.Equal(t, t0.Add(time.Minute), h.api.refreshes[0])

	// Keep going: every refresh lands one minute after the previous one, long
	// before the two-minute expiry.
	h.activeFor(4*time.Minute, 5*time.Second)
	assert.Equal(t, 5, h.api.refreshCount())
	for i, at := range h.api.refreshes {
		assert.Equal(t, t0.Add(time.Duration(i+1)*time.Minute), at)
	}
	assert.Equal(t, StateActive, h.state())
	assert.True(t, h.clock.Now().Before(h.m.Snapshot().AccessExpiresAt))
}

func TestMonitor_NoProactiveRefreshWithoutActivity(t *testing.T) {
	h := newHarness(t, 2*time.Minute, 8*time.Hour)
	h.start()

	h.clock.Advance(110 * time.Second)

	assert.Equal(t, 0, h.api.refreshCount())
	assert.Equal(t, StateActive, h.state())
}

func TestMonitor_AbsoluteCeilingBeatsActivity(t *testing.T) {
	h := newHarness(t, 2*time.Minute, 10*time.Minute)
	h.start()

	h.activeFor(10*time.Minute-5*time.Second, 5*time.Second)
	assert.Equal(t, StateActive, h.state())
	assert.Greater(t, h.api.refreshCount(), 5)

	h.activeFor(5*time.Second, 5*time.Second)
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, []string{"/login"}, h.nav.routes)
}

func TestMonitor_CeilingWhileWarning(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 3*time.Minute)
	h.start()
	h.clock.Advance(2 * time.Minute)
	require.Equal(t, StateWarning, h.state())

	h.clock.Advance(time.Minute)
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, 1, h.nav.count())
	assert.Zero(t, h.api.logouts, "an expired session has nothing left to revoke")
}

func TestMonitor_RefreshFailureIsFatal(t *testing.T) {
	h := newHarness(t, 2*time.Minute, 8*time.Hour)
	h.api.fail = errors.New("connection refused")
	h.start()

	h.activeFor(time.Minute, 5*time.Second)

	assert.Equal(t, 1, h.api.refreshCount())
	assert.Equal(t, StateLoggedOut, h.state())
	assert.Equal(t, 1, h.nav.count())
	assert.Equal(t, []string{"refresh-0"}, h.api.revoked)
}

func TestMonitor_RefreshResultAfterLogoutIsDropped(t *testing.T) {
	h := newHarness(t, 2*time.Minute, 8*time.Hour)
	h.start()
	h.api.onRefresh = func() {
		h.api.onRefresh = nil
		_ = h.m.Logout(context.Background())
	}

	h.activeFor(time.Minute, 5*time.Second)

	assert.Equal(t, StateLoggedOut, h.state())
	_, err := h.m.AccessToken()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 1, h.nav.count())
}

func TestMonitor_LogoutIsIdempotent(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()

	require.NoError(t, h.m.Logout(context.Background()))
	require.NoError(t, h.m.Logout(context.Background()))

	assert.Equal(t, 1, h.api.logouts)
	assert.Equal(t, 1, h.nav.count())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestMonitor_RestartCancelsPreviousTimers(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	h.start()
	h.clock.Advance(2 * time.Minute)
	require.Equal(t, StateWarning, h.state())

	h.start()

	assert.Equal(t, StateActive, h.state())
	assert.Equal(t, 2, h.clock.Pending())
	assert.Equal(t, 1, h.src.subscribes-h.src.unsubscribes)

	// The first session's auto-logout would have fired at t0+5m.
	h.activeFor(4*time.Minute, 10*time.Second)
	assert.Equal(t, StateActive, h.state())
	assert.Equal(t, 0, h.nav.count())
}

func TestMonitor_OnChange(t *testing.T) {
	h := newHarness(t, 15*time.Minute, 8*time.Hour)
	var states []State
	remove := h.m.OnChange(func(s Snapshot) { states = append(states, s.State) })

	h.start()
	h.clock.Advance(2 * time.Minute)
	remove()
	h.clock.Advance(3 * time.Minute)

	assert.Equal(t, []State{StateActive, StateWarning}, states)
	assert.Equal(t, StateLoggedOut, h.state())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "warning", StateWarning.String())
	assert.Equal(t, "logged_out", StateLoggedOut.String())
	assert.Equal(t, "unknown", State(7).String())
}
