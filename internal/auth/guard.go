package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Guard protects admin endpoints with a bearer token checked against a
// bcrypt hash. Clients that keep failing are locked out for a while.
type Guard struct {
	hash   string
	logger *slog.Logger

	maxFailures int
	lockout     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	failures map[string]*failureWindow
}

type failureWindow struct {
	count       int
	lockedUntil time.Time
	lastSeen    time.Time
}

// GuardConfig configures brute-force protection
type GuardConfig struct {
	MaxFailures int
	Lockout     time.Duration
}

// DefaultGuardConfig returns sensible defaults
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxFailures: 5,
		Lockout:     time.Minute,
	}
}

// NewGuard creates a Guard. An empty hash disables authentication.
func NewGuard(hash string, cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = time.Minute
	}
	return &Guard{
		hash:        hash,
		logger:      logger,
		maxFailures: cfg.MaxFailures,
		lockout:     cfg.Lockout,
		now:         time.Now,
		failures:    make(map[string]*failureWindow),
	}
}

// Enabled reports whether a token is required
func (g *Guard) Enabled() bool {
	return g.hash != ""
}

// Check authenticates r. client identifies the caller for lockout purposes.
func (g *Guard) Check(r *http.Request, client string) error {
	if !g.Enabled() {
		return nil
	}

	if g.lockedOut(client) {
		return ErrRateLimited
	}

	token, ok := BearerToken(r)
	if !ok {
		return ErrMissingToken
	}

	if !VerifyToken(token, g.hash) {
		g.recordFailure(client)
		g.logger.Warn("Rejected admin token",
			"client", client,
			"token", MaskToken(token),
		)
		return ErrInvalidToken
	}

	g.mu.Lock()
	delete(g.failures, client)
	g.mu.Unlock()
	return nil
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func (g *Guard) lockedOut(client string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.failures[client]
	return ok && g.now().Before(w.lockedUntil)
}

func (g *Guard) recordFailure(client string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	w, ok := g.failures[client]
	if !ok || now.Sub(w.lastSeen) > g.lockout {
		w = &failureWindow{}
		g.failures[client] = w
	}
	w.count++
	w.lastSeen = now
	if w.count >= g.maxFailures {
		w.lockedUntil = now.Add(g.lockout)
		w.count = 0
	}
}
