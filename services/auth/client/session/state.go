package session

import "time"

// State is a session monitor state.
type State int

const (
	// StateLoggedOut is terminal until the next Start.
	StateLoggedOut State = iota
	StateActive
	// StateWarning shows the expiry modal with its auto-logout countdown.
	StateWarning
)

var stateNames = map[State]string{
	StateLoggedOut: "logged_out",
	StateActive:    "active",
	StateWarning:   "warning",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// User is the authenticated user as returned by the auth API.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Tokens is a token pair with the expiry of each token.
type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// LoginResult is what a successful login hands to Monitor.Start.
type LoginResult struct {
	User   User
	Tokens Tokens
}

// Snapshot is a consistent view of the monitor.
type Snapshot struct {
	User               *User
	Authenticated      bool
	State              State
	LastActivity       time.Time
	ModalVisible       bool
	AutoLogoutDeadline time.Time
	AccessExpiresAt    time.Time
	RefreshExpiresAt   time.Time
}
