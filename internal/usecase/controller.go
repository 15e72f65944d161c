package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"maisoku/internal/capture"
	"maisoku/internal/domain"
	"maisoku/internal/hardware"
	"maisoku/internal/ports"
)

// Controller drives one analyze-a-property-photo session from authentication
// gating through capture, analysis, and results. Dispatch is fire-and-forget;
// suspending operations run on goroutines and report back through generation-
// guarded completions so a result that arrives after the user has moved on is
// discarded instead of applied.
type Controller struct {
	guard            *hardware.Guard
	pipeline         *capture.Pipeline
	analysis         ports.AnalysisService
	identityProvider ports.IdentityProvider
	prefs            ports.PreferenceStore
	history          ports.HistoryStore
	events           ports.EventSink
	logger           *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	sessionID string
	sess      session
	// gen is bumped on every applied transition; async completions carry the
	// generation they were launched under and are discarded on mismatch.
	gen  uint64
	busy bool
	// hardwareUnavailable keeps the gallery-only fallback observable after a
	// failed camera acquire.
	hardwareUnavailable bool
	cancelAnalysis      context.CancelFunc
}

func NewController(
	guard *hardware.Guard,
	pipeline *capture.Pipeline,
	analysis ports.AnalysisService,
	identityProvider ports.IdentityProvider,
	prefs ports.PreferenceStore,
	history ports.HistoryStore,
	events ports.EventSink,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		guard:            guard,
		pipeline:         pipeline,
		analysis:         analysis,
		identityProvider: identityProvider,
		prefs:            prefs,
		history:          history,
		events:           events,
		logger:           logger,
		ctx:              context.Background(),
		sessionID:        uuid.NewString(),
		sess:             session{state: domain.StateAuthCheck},
	}
}

// Start binds the session to ctx and begins identity resolution. The session
// leaves authCheck once the identity provider settles.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	gen := c.gen
	c.mu.Unlock()

	go c.resolveIdentity(ctx, gen)
}

// IdentityChanged re-enters the flow at authCheck after an external sign-in
// or sign-out. The aggregate is reset; identity is never cached across
// entries.
func (c *Controller) IdentityChanged() {
	c.mu.Lock()
	c.sess.reset()
	c.sess.identity = nil
	c.sess.profile = nil
	c.busy = false
	c.hardwareUnavailable = false
	cancel := c.cancelAnalysis
	c.cancelAnalysis = nil
	snap := c.applyLocked(domain.StateAuthCheck, nil)
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.guard.Release()
	c.events.SessionStateChanged(snap, domain.ReasonIdentityResolved)
	go c.resolveIdentity(ctx, gen)
}

// SeedReanalysis supplies a prior history entry when the flow is re-entered
// from history. The seed is consumed by the next showPhotoChoice dispatch,
// then cleared.
func (c *Controller) SeedReanalysis(entry domain.HistoryEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.seed = &entry
}

// Snapshot returns a read-only view of the session.
func (c *Controller) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Shutdown tears the session down: any in-flight work is detached and the
// camera binding is released regardless of exit path.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	cancel := c.cancelAnalysis
	c.cancelAnalysis = nil
	c.busy = false
	c.gen++
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.guard.Release()
}

func (c *Controller) resolveIdentity(ctx context.Context, gen uint64) {
	identity, err := c.identityProvider.CurrentIdentity(ctx)
	if err != nil {
		c.logger.Warn("identity resolution failed, treating as anonymous", "error", err)
		identity = nil
	}

	// Preference profile is fetched once per session and treated as an
	// immutable input; absence is valid.
	var profile *domain.PreferenceProfile
	if identity != nil && c.prefs != nil {
		profile, err = c.prefs.LoadProfile(ctx, identity.UserID)
		if err != nil {
			c.logger.Warn("preference profile load failed", "error", err, "user", identity.UserID)
			profile = nil
		}
	}

	c.mu.Lock()
	if c.gen != gen || c.sess.state != domain.StateAuthCheck {
		c.mu.Unlock()
		return
	}
	c.sess.identity = identity
	c.sess.profile = profile

	next := domain.StateInitial
	reason := domain.ReasonIdentityResolved
	if identity == nil {
		next = domain.StateLoginRequired
		reason = domain.ReasonLoginRequired
	}
	snap := c.applyLocked(next, nil)
	c.mu.Unlock()

	c.events.SessionStateChanged(snap, reason)
}

// applyLocked commits a transition: new state, new lastError (nil clears it),
// generation bump, invariant check. Caller holds the mutex.
func (c *Controller) applyLocked(state domain.SessionState, failure error) domain.SessionSnapshot {
	c.sess.state = state
	c.sess.lastErr = failure
	c.gen++
	if !c.sess.invariantsHold() {
		c.logger.Error("session invariant violated after transition",
			"session", c.sessionID,
			"state", state,
		)
	}
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		SessionID:           c.sessionID,
		State:               c.sess.state,
		Authenticated:       c.sess.identity != nil,
		ProcessingImage:     c.busy,
		HardwareUnavailable: c.hardwareUnavailable,
		HasImage:            c.sess.selectedImage != nil,
		LastError:           domain.Describe(c.sess.lastErr),
	}
	if c.sess.result != nil {
		result := *c.sess.result
		snap.Result = &result
	}
	return snap
}

// violation records a caller defect. It is logged, never surfaced to the
// user, and causes no transition.
func (c *Controller) violationLocked(action domain.Action) {
	err := &domain.StateViolationError{State: c.sess.state, Action: action}
	c.logger.Error("dispatch rejected", "session", c.sessionID, "error", err)
}

func (c *Controller) saveHistory(ctx context.Context, identity domain.Identity, result domain.AnalysisResult, imageRef string) {
	if c.history == nil {
		return
	}
	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		UserID:    identity.UserID,
		Result:    result,
		ImageRef:  imageRef,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := c.history.Save(ctx, entry); err != nil {
		c.logger.Warn("history save failed", "error", err, "user", identity.UserID)
	}
}
