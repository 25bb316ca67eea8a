package session

import (
	"sync"
	"time"
)

// EventName names a user-interaction event.
type EventName string

// Interaction events counted as activity.
const (
	EventMouseDown   EventName = "mousedown"
	EventMouseMove   EventName = "mousemove"
	EventClick       EventName = "click"
	EventPointerDown EventName = "pointerdown"
	EventPointerMove EventName = "pointermove"
	EventKeyDown     EventName = "keydown"
	EventKeyUp       EventName = "keyup"
	EventTouchStart  EventName = "touchstart"
	EventTouchMove   EventName = "touchmove"
	EventScroll      EventName = "scroll"
	EventWheel       EventName = "wheel"
	EventInput       EventName = "input"
	EventChange      EventName = "change"
	EventFocus       EventName = "focus"
	EventSubmit      EventName = "submit"
)

// DefaultEvents returns every pointer, keyboard, touch, scroll and form event.
func DefaultEvents() []EventName {
	return []EventName{
		EventMouseDown, EventMouseMove, EventClick, EventPointerDown, EventPointerMove,
		EventKeyDown, EventKeyUp,
		EventTouchStart, EventTouchMove,
		EventScroll, EventWheel,
		EventInput, EventChange, EventFocus, EventSubmit,
	}
}

// Event is one interaction. Trusted is false for events raised by code
// rather than by the user. A zero At means "now".
type Event struct {
	Name    EventName
	Trusted bool
	At      time.Time
}

// EventSource delivers interaction events. Subscribe registers handler for
// all of names at once and returns the function that removes it.
type EventSource interface {
	Subscribe(names []EventName, handler func(Event)) (unsubscribe func())
}

// ActivityTracker records when the user last interacted.
type ActivityTracker struct {
	mu          sync.Mutex
	throttle    time.Duration
	events      []EventName
	now         func() time.Time
	last        time.Time
	windowStart time.Time
	unsubscribe func()
}

// NewActivityTracker creates a tracker that records at most one activity per
// throttle window. Without events it listens to DefaultEvents.
func NewActivityTracker(throttle time.Duration, now func() time.Time, events ...EventName) *ActivityTracker {
	if len(events) == 0 {
		events = DefaultEvents()
	}
	if now == nil {
		now = time.Now
	}
	return &ActivityTracker{throttle: throttle, events: events, now: now}
}

// Attach subscribes to src. A tracker listens to one source at a time;
// attaching again detaches the previous one first.
func (t *ActivityTracker) Attach(src EventSource) {
	t.Detach()
	unsubscribe := src.Subscribe(t.events, func(e Event) { t.Observe(e) })

	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
}

// Detach removes the subscription. It is safe to call more than once.
func (t *ActivityTracker) Detach() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Attached reports whether the tracker currently holds a subscription.
func (t *ActivityTracker) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsubscribe != nil
}

// Observe records e and reports whether it updated the last activity.
// Untrusted events and events inside the current throttle window are dropped.
func (t *ActivityTracker) Observe(e Event) bool {
	if !e.Trusted {
		return false
	}
	at := e.At
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.windowStart.IsZero() && at.Sub(t.windowStart) < t.throttle {
		return false
	}
	t.windowStart = at
	if at.After(t.last) {
		t.last = at
	}
	return true
}

// LastActivity returns the time of the last recorded activity.
func (t *ActivityTracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// SinceLastActivity returns how long the user has been idle at now.
func (t *ActivityTracker) SinceLastActivity(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return 0
	}
	return now.Sub(t.last)
}

// Reset sets the idle time to zero at now. The next trusted event is recorded
// regardless of the throttle window.
func (t *ActivityTracker) Reset(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = now
	t.windowStart = time.Time{}
}
