package hellodalle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const maxConcurrentGenerations = 1

// Messages sent back to users when admission is denied.
const (
	cooldownBusyMessage = "You already have a pfp generation in progress. " +
		"Please wait for it to finish."
	cooldownWaitMessageFormat = "Hold on, cool it a little... " +
		"you can generate another image in %d seconds."
)

// AdmitDenialReason identifies why a request was refused admission.
type AdmitDenialReason string

const (
	// DenialConcurrent means the user already has an active generation
	DenialConcurrent AdmitDenialReason = "concurrent"

	// DenialCooldown means the user is in slow mode and must wait
	DenialCooldown AdmitDenialReason = "cooldown"
)

// AdmitDecision is the outcome of a CooldownService.Admit call.
type AdmitDecision struct {
	// Allowed is true when the request was admitted and recorded
	Allowed bool

	// Reason is set when Allowed is false
	Reason AdmitDenialReason

	// RetryAfter is how long the user must wait before retrying, for
	// cooldown denials
	RetryAfter time.Duration

	// Message is the user-facing denial text
	Message string
}

// UserCooldownStatus is a read-only snapshot of one user's admission
// state, for the diagnostics API.
type UserCooldownStatus struct {
	UserID         string    `json:"user_id"`
	ActiveRequests int       `json:"active_requests"`
	RecentRequests int       `json:"recent_requests"`
	FastMode       bool      `json:"fast_mode"`
	NextAllowedAt  time.Time `json:"next_allowed_at,omitempty"`
}

type userCooldownState struct {
	// active holds the request IDs currently being generated
	active map[string]struct{}

	// timestamps of requests within the fast-mode reset window,
	// oldest first
	timestamps []time.Time
}

// CooldownService is the per-user admission controller for image
// generation. Users get a burst of requests in "fast mode", then drop
// into "slow mode" where a fixed interval must elapse between requests.
// An inactivity window restores fast mode. At most one generation may
// be active per user at a time.
//
// All decisions and bookkeeping happen under a single mutex, so a
// denied request can never slip in between the check and the record.
type CooldownService struct {
	mu    sync.Mutex
	users map[string]*userCooldownState

	fastModeLimit    int
	fastModeReset    time.Duration
	slowModeInterval time.Duration
	cleanupInterval  time.Duration

	// now is the clock, injectable for tests
	now func() time.Time

	logger *slog.Logger
}

// NewCooldownService creates a CooldownService from the given config.
// Zero or missing values fall back to the defaults.
func NewCooldownService(cfg *CooldownConfig, logger *slog.Logger) *CooldownService {
	if cfg == nil {
		cfg = &CooldownConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &CooldownService{
		users:            map[string]*userCooldownState{},
		fastModeLimit:    cfg.FastModeLimit,
		fastModeReset:    cfg.FastModeReset,
		slowModeInterval: cfg.SlowModeInterval,
		cleanupInterval:  cfg.CleanupInterval,
		now:              time.Now,
		logger:           logger.With(loggerNameKey, "cooldown"),
	}
	if c.fastModeLimit <= 0 {
		c.fastModeLimit = DefaultCooldownFastModeLimit
	}
	if c.fastModeReset <= 0 {
		c.fastModeReset = DefaultCooldownFastModeReset
	}
	if c.slowModeInterval <= 0 {
		c.slowModeInterval = DefaultCooldownSlowModeInterval
	}
	if c.cleanupInterval <= 0 {
		c.cleanupInterval = DefaultCooldownCleanupInterval
	}
	return c
}

// decide evaluates admission for state at time now. Mutates only the
// fast-mode history (pruning entries past the reset window). Callers
// hold c.mu.
func (c *CooldownService) decide(
	userID string,
	state *userCooldownState,
	now time.Time,
) AdmitDecision {
	if len(state.active) >= maxConcurrentGenerations {
		c.logger.Info(
			"admission denied",
			"user_id", userID,
			"reason", DenialConcurrent,
		)
		return AdmitDecision{
			Reason:  DenialConcurrent,
			Message: cooldownBusyMessage,
		}
	}

	// Inactivity restores fast mode: if the most recent request is
	// older than the reset window, prior history no longer counts.
	if n := len(state.timestamps); n > 0 {
		if now.Sub(state.timestamps[n-1]) >= c.fastModeReset {
			state.timestamps = nil
		}
	}

	if len(state.timestamps) >= c.fastModeLimit {
		last := state.timestamps[len(state.timestamps)-1]
		wait := c.slowModeInterval - now.Sub(last)
		if wait > 0 {
			c.logger.Info(
				"admission denied",
				"user_id", userID,
				"reason", DenialCooldown,
				"retry_after", wait,
			)
			return AdmitDecision{
				Reason:     DenialCooldown,
				RetryAfter: wait,
				Message: fmt.Sprintf(
					cooldownWaitMessageFormat,
					int(wait.Seconds())+1,
				),
			}
		}
	}

	return AdmitDecision{Allowed: true}
}

// Admit atomically checks whether userID may start a generation and, if
// so, records requestID as active and stamps the request time. Callers
// must pair an allowed Admit with a later Complete.
func (c *CooldownService) Admit(userID string, requestID string) AdmitDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	state := c.users[userID]
	if state == nil {
		state = &userCooldownState{active: map[string]struct{}{}}
		c.users[userID] = state
	}

	decision := c.decide(userID, state, now)
	if !decision.Allowed {
		return decision
	}

	state.active[requestID] = struct{}{}
	state.timestamps = append(state.timestamps, now)
	return decision
}

// CanMakeRequest reports whether userID would currently be admitted,
// without claiming a slot. Admission is only guaranteed by Admit; this
// is for diagnostics.
func (c *CooldownService) CanMakeRequest(userID string) AdmitDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.users[userID]
	if state == nil {
		return AdmitDecision{Allowed: true}
	}
	return c.decide(userID, state, c.now())
}

// Complete marks requestID as finished for userID, releasing the user's
// concurrency slot. Completing an unknown or already-completed request
// is a no-op.
func (c *CooldownService) Complete(userID string, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.users[userID]
	if state == nil {
		return
	}
	delete(state.active, requestID)
}

// Status returns a snapshot of the user's admission state.
func (c *CooldownService) Status(userID string) UserCooldownStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := UserCooldownStatus{UserID: userID, FastMode: true}
	state := c.users[userID]
	if state == nil {
		return status
	}

	now := c.now()
	recent := 0
	for _, ts := range state.timestamps {
		if now.Sub(ts) < c.fastModeReset {
			recent++
		}
	}

	status.ActiveRequests = len(state.active)
	status.RecentRequests = recent

	if recent >= c.fastModeLimit && len(state.timestamps) > 0 {
		last := state.timestamps[len(state.timestamps)-1]
		next := last.Add(c.slowModeInterval)
		if next.After(now) {
			status.FastMode = false
			status.NextAllowedAt = next
		}
	}
	return status
}

// Cleanup evicts users with no active generations whose last request is
// older than the fast-mode reset window.
func (c *CooldownService) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for userID, state := range c.users {
		if len(state.active) > 0 {
			continue
		}
		if n := len(state.timestamps); n > 0 {
			if now.Sub(state.timestamps[n-1]) < c.fastModeReset {
				continue
			}
		}
		delete(c.users, userID)
		evicted++
	}
	if evicted > 0 {
		c.logger.Debug("evicted idle cooldown entries", "count", evicted)
	}
	return evicted
}

// Run periodically sweeps idle user entries until ctx is cancelled.
func (c *CooldownService) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
