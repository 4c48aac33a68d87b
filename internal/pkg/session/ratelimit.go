package session

import (
	"time"

	"gonexia/internal/pkg/apierr"
)

const (
	maxLoginAttempts   = 4
	loginAttemptWindow = time.Hour
)

// checkLoginAllowed enforces the local login rate limiter before any network
// call is made, to avoid vendor-side account lockout from repeated failed
// sign-ins. The attempt counter resets once the window has elapsed.
func (m *Manager) checkLoginAllowed() error {
	now := m.now()

	if !m.state.lastLoginAttempt.IsZero() && now.Sub(m.state.lastLoginAttempt) > loginAttemptWindow {
		m.state.loginAttempts = 0
	}

	if m.state.loginAttempts >= maxLoginAttempts {
		wait := loginAttemptWindow - now.Sub(m.state.lastLoginAttempt)
		return &apierr.Error{
			Kind:    apierr.KindRateLimited,
			Message: "too many failed login attempts",
			Wait:    wait,
		}
	}

	return nil
}

// recordLoginFailure bumps the attempt counter and timestamps the attempt.
func (m *Manager) recordLoginFailure() {
	m.state.loginAttempts++
	m.state.lastLoginAttempt = m.now()
	m.persist()
}
