package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a live session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrNotWarning is returned by Continue outside the warning state.
	ErrNotWarning = errors.New("session: no expiry warning to continue from")
	// ErrSessionEnded is returned when the session ended while a call was in flight.
	ErrSessionEnded = errors.New("session: ended")
)

// Reasons recorded when the monitor changes state.
const (
	reasonLogin         = "login"
	reasonIdle          = "idle"
	reasonContinue      = "continue"
	reasonAutoLogout    = "auto_logout"
	reasonCeiling       = "refresh_token_expired"
	reasonRefreshFailed = "refresh_failed"
	reasonUserLogout    = "user_logout"
)

// serverLogoutTimeout bounds the server revoke sent after a forced logout.
const serverLogoutTimeout = 5 * time.Second

// SessionAPI is the part of the auth API the monitor calls.
type SessionAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// Navigator moves the application to a route.
type Navigator interface {
	Redirect(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Redirect(route string) { f(route) }

// MonitorOptions holds the monitor's collaborators. Source may be nil when
// activity is fed to the tracker directly.
type MonitorOptions struct {
	API       SessionAPI
	Navigator Navigator
	Source    EventSource
	Scheduler Scheduler
	Logger    *slog.Logger
}

type observer struct {
	id int
	fn func(Snapshot)
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// Monitor owns the client session: its tokens, its state and every timer.
// All state changes go through transition, which cancels the timers of the
// state being left.
type Monitor struct {
	cfg     Config
	api     SessionAPI
	nav     Navigator
	source  EventSource
	sched   Scheduler
	logger  *slog.Logger
	tracker *ActivityTracker

	mu     sync.Mutex
	ctx    context.Context
	state  State
	gen    uint64 // bumped on every transition; timer callbacks from older generations are dropped
	epoch  uint64 // bumped on every login and logout; refresh results from older epochs are dropped
	timers []Timer

	user     *User
	tokens   Tokens
	issuedAt time.Time
	deadline time.Time
	inflight *refreshCall

	observers []observer
	nextID    int
	effects   []func()
}

// NewMonitor creates a logged-out monitor.
func NewMonitor(cfg Config, opts MonitorOptions) *Monitor {
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Navigator == nil {
		opts.Navigator = NavigatorFunc(func(string) {})
	}
	return &Monitor{
		cfg:     cfg,
		api:     opts.API,
		nav:     opts.Navigator,
		source:  opts.Source,
		sched:   opts.Scheduler,
		logger:  opts.Logger,
		tracker: NewActivityTracker(cfg.ActivityThrottle, opts.Scheduler.Now),
		ctx:     context.Background(),
		state:   StateLoggedOut,
	}
}

// Tracker returns the activity tracker the monitor reads idle time from.
func (m *Monitor) Tracker() *ActivityTracker { return m.tracker }

// Start begins a session from a successful login. Timers left over from a
// previous session are cancelled. ctx bounds background refreshes.
func (m *Monitor) Start(ctx context.Context, res LoginResult) {
	m.update(func() {
		m.stopTimers()
		m.epoch++
		m.ctx = ctx
		m.inflight = nil
		user := res.User
		m.user = &user
		m.setTokens(res.Tokens)
		m.tracker.Reset(m.sched.Now())
		if m.source != nil {
			m.tracker.Attach(m.source)
		}
		m.state = StateLoggedOut
		m.transition(StateActive, reasonLogin)
	})
}

// Continue answers the expiry warning: it refreshes the tokens, resets the
// idle time and returns to StateActive. A failed refresh logs the user out.
// If ctx ends before the refresh does, the monitor stays in StateWarning with
// its countdown still running.
func (m *Monitor) Continue(ctx context.Context) error {
	var err error
	m.update(func() {
		if m.state != StateWarning {
			err = ErrNotWarning
			return
		}
		if m.pastCeiling(m.sched.Now()) {
			m.transition(StateLoggedOut, reasonCeiling)
			err = ErrSessionEnded
			return
		}
	})
	if err != nil {
		return err
	}

	// The warning timers stay armed until the refresh result is applied.
	if err := m.refresh(ctx); err != nil {
		return err
	}

	m.update(func() {
		if m.state != StateWarning {
			err = ErrSessionEnded
			return
		}
		m.tracker.Reset(m.sched.Now())
		m.transition(StateActive, reasonContinue)
	})
	return err
}

// Logout ends the session locally, then tells the server. The local session
// is always gone on return; the error only reports the server call.
func (m *Monitor) Logout(ctx context.Context) error {
	var (
		tokens Tokens
		live   bool
	)
	m.update(func() {
		if m.state == StateLoggedOut {
			return
		}
		live = true
		tokens = m.tokens
		m.transition(StateLoggedOut, reasonUserLogout)
	})
	if !live {
		return nil
	}

	if err := m.api.Logout(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		m.logger.WarnContext(ctx, "server logout failed", slog.String("error", err.Error()))
		return fmt.Errorf("server logout: %w", err)
	}
	return nil
}

// AccessToken returns the current access token for API calls.
func (m *Monitor) AccessToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedOut {
		return "", ErrNotAuthenticated
	}
	return m.tokens.AccessToken, nil
}

// OnChange registers fn to receive a snapshot after every change. The
// returned function removes it.
func (m *Monitor) OnChange(fn func(Snapshot)) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, observer{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Monitor) snapshot() Snapshot {
	s := Snapshot{
		State:              m.state,
		Authenticated:      m.state != StateLoggedOut,
		LastActivity:       m.tracker.LastActivity(),
		ModalVisible:       m.state == StateWarning,
		AutoLogoutDeadline: m.deadline,
		AccessExpiresAt:    m.tokens.AccessExpiresAt,
		RefreshExpiresAt:   m.tokens.RefreshExpiresAt,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// --- transitions ---

// transition moves to the given state. It must be called with mu held.
func (m *Monitor) transition(to State, reason string) {
	from := m.state
	if from == StateLoggedOut && to == StateLoggedOut {
		return
	}
	m.stopTimers()
	m.state = to
	m.deadline = time.Time{}

	now := m.sched.Now()
	switch to {
	case StateActive:
		m.arm(m.sched.Every(m.cfg.CheckInterval, m.guard(m.tick)))
		m.armCeiling(now)
	case StateWarning:
		m.deadline = now.Add(m.cfg.AutoLogoutDelay)
		m.arm(m.sched.AfterFunc(m.cfg.AutoLogoutDelay, m.guard(func() {
			m.transition(StateLoggedOut, reasonAutoLogout)
		})))
		m.armCeiling(now)
	case StateLoggedOut:
		if reason != reasonUserLogout && reason != reasonCeiling {
			m.revokeOnServer(m.tokens)
		}
		m.epoch++
		m.user = nil
		m.tokens = Tokens{}
		m.issuedAt = time.Time{}
		m.inflight = nil
		m.tracker.Detach()
		route := m.cfg.LoginRoute
		m.effects = append(m.effects, func() { m.nav.Redirect(route) })
	}

	m.logger.Info("session state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
	m.notify()
}

// revokeOnServer queues a best-effort server logout for a session the client
// ended by itself. It must be called with mu held.
func (m *Monitor) revokeOnServer(tokens Tokens) {
	if m.api == nil || tokens.RefreshToken == "" {
		return
	}
	base := context.WithoutCancel(m.ctx)
	m.effects = append(m.effects, func() {
		ctx, cancel := context.WithTimeout(base, serverLogoutTimeout)
		defer cancel()
		if err := m.api.Logout(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
			m.logger.WarnContext(ctx, "server logout failed", slog.String("error", err.Error()))
		}
	})
}

func (m *Monitor) armCeiling(now time.Time) {
	m.arm(m.sched.AfterFunc(m.tokens.RefreshExpiresAt.Sub(now), m.guard(func() {
		m.transition(StateLoggedOut, reasonCeiling)
	})))
}

func (m *Monitor) arm(t Timer) {
	m.timers = append(m.timers, t)
}

// stopTimers cancels every timer of the current state and invalidates
// callbacks that already fired but have not run yet.
func (m *Monitor) stopTimers() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	m.gen++
}

// guard binds f to the current generation.
func (m *Monitor) guard(f func()) func() {
	gen := m.gen
	return func() {
		m.update(func() {
			if m.gen != gen {
				return
			}
			f()
		})
	}
}

// tick is the periodic check in StateActive.
func (m *Monitor) tick() {
	now := m.sched.Now()
	switch {
	case m.pastCeiling(now):
		m.transition(StateLoggedOut, reasonCeiling)
	case m.tracker.SinceLastActivity(now) >= m.cfg.IdleThreshold:
		m.transition(StateWarning, reasonIdle)
	case m.inflight == nil && m.dueForRefresh(now):
		ctx := m.ctx
		m.effects = append(m.effects, func() {
			// Failure already logged the session out.
			_ = m.refresh(ctx)
		})
	}
}

func (m *Monitor) pastCeiling(now time.Time) bool {
	return !now.Before(m.tokens.RefreshExpiresAt)
}

// dueForRefresh reports whether the access token is past the refresh point of
// its lifetime and the user has been active since it was issued.
func (m *Monitor) dueForRefresh(now time.Time) bool {
	refreshAt := m.issuedAt
	if lifetime := m.tokens.AccessExpiresAt.Sub(m.issuedAt); lifetime > 0 {
		refreshAt = refreshAt.Add(time.Duration(float64(lifetime) * m.cfg.RefreshAtFraction))
	}
	return !now.Before(refreshAt) && m.tracker.LastActivity().After(m.issuedAt)
}

// refresh rotates the tokens once. Concurrent callers share one request. A
// failed refresh ends the session.
func (m *Monitor) refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	epoch := m.epoch
	token := m.tokens.RefreshToken
	m.mu.Unlock()

	tokens, err := m.api.Refresh(ctx, token)

	m.update(func() {
		if m.inflight == call {
			m.inflight = nil
		}
		if m.epoch != epoch {
			err = ErrSessionEnded
			return
		}
		if err != nil {
			m.logger.WarnContext(ctx, "token refresh failed", slog.String("error", err.Error()))
			m.transition(StateLoggedOut, reasonRefreshFailed)
			return
		}
		m.setTokens(*tokens)
		m.notify()
	})

	call.err = err
	close(call.done)
	return err
}

func (m *Monitor) setTokens(t Tokens) {
	m.tokens = t
	m.issuedAt = m.sched.Now()
}

// notify queues a snapshot for every observer.
func (m *Monitor) notify() {
	if len(m.observers) == 0 {
		return
	}
	snap := m.snapshot()
	fns := make([]func(Snapshot), len(m.observers))
	for i, o := range m.observers {
		fns[i] = o.fn
	}
	m.effects = append(m.effects, func() {
		for _, fn := range fns {
			fn(snap)
		}
	})
}

// update runs fn under the lock, then runs the effects it queued with the
// lock released.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	fn()
	effects := m.effects
	m.effects = nil
	m.mu.Unlock()

	for _, e := range effects {
		e()
	}
}
