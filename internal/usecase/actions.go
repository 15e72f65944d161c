package usecase

import (
	"context"

	"maisoku/internal/domain"
)

// Dispatch routes a user action to the matching sub-operation. It is
// fire-and-forget: callers observe outcomes through snapshots and the event
// sink, never through a return value.
func (c *Controller) Dispatch(action domain.Action) {
	switch action {
	case domain.ActionShowPhotoChoice:
		c.showPhotoChoice()
	case domain.ActionStartCameraCapture:
		c.startCameraCapture()
	case domain.ActionPickFromGallery:
		c.pickFromGallery()
	case domain.ActionTakePicture:
		c.takePicture()
	case domain.ActionSwitchCamera:
		c.switchCamera()
	case domain.ActionBackToPhotoChoice:
		c.backToPhotoChoice()
	case domain.ActionCancelAnalysis:
		c.cancelAnalysisRequested()
	case domain.ActionResetAnalysis:
		c.resetAnalysis()
	case domain.ActionReanalyze:
		c.reanalyze()
	case domain.ActionNavigateToLogin:
		c.navigateToLogin()
	default:
		c.logger.Error("unknown action dispatched", "action", action)
	}
}

func (c *Controller) showPhotoChoice() {
	c.mu.Lock()
	if c.sess.state != domain.StateInitial {
		c.violationLocked(domain.ActionShowPhotoChoice)
		c.mu.Unlock()
		return
	}
	if c.busy {
		c.mu.Unlock()
		return
	}

	// A reanalysis seed short-circuits selection: the prior image goes
	// straight back through normalization and analysis.
	if seed := c.sess.seed; seed != nil && seed.ImageRef != "" {
		c.sess.seed = nil
		c.busy = true
		gen := c.gen
		imageRef := seed.ImageRef
		c.mu.Unlock()
		go c.loadSeedImage(gen, imageRef)
		return
	}
	c.sess.seed = nil

	snap := c.applyLocked(domain.StatePhotoChoice, nil)
	c.mu.Unlock()
	c.events.SessionStateChanged(snap, domain.ReasonPhotoChoiceOpened)
}

func (c *Controller) loadSeedImage(gen uint64, imageRef string) {
	img, err := c.pipeline.FromFile(imageRef)
	if err != nil {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.busy = false
		snap := c.applyLocked(domain.StatePhotoChoice, err)
		c.mu.Unlock()
		c.events.SessionStateChanged(snap, domain.ReasonCaptureFailed)
		c.emitError(err)
		return
	}
	c.enterAnalyzing(gen, img)
}

func (c *Controller) startCameraCapture() {
	c.mu.Lock()
	if c.sess.state != domain.StatePhotoChoice {
		c.violationLocked(domain.ActionStartCameraCapture)
		c.mu.Unlock()
		return
	}
	if c.busy {
		c.mu.Unlock()
		return
	}
	c.busy = true
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		handle, err := c.guard.Acquire(ctx)

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			if err == nil && handle != nil {
				c.guard.Release()
			}
			return
		}
		c.busy = false
		if err != nil {
			// Hardware failures never terminate the flow; the gallery
			// option stays available.
			c.hardwareUnavailable = true
			snap := c.applyLocked(domain.StatePhotoChoice, err)
			c.mu.Unlock()
			c.events.SessionStateChanged(snap, domain.ReasonCameraUnavailable)
			c.emitError(err)
			return
		}
		c.hardwareUnavailable = false
		snap := c.applyLocked(domain.StateCapturing, nil)
		c.mu.Unlock()
		c.events.SessionStateChanged(snap, domain.ReasonCameraAcquired)
	}()
}

func (c *Controller) pickFromGallery() {
	c.mu.Lock()
	if c.sess.state != domain.StatePhotoChoice {
		c.violationLocked(domain.ActionPickFromGallery)
		c.mu.Unlock()
		return
	}
	if c.busy {
		c.mu.Unlock()
		return
	}
	c.busy = true
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		img, err := c.pipeline.FromGallery(ctx)

		if err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.busy = false
			snap := c.applyLocked(domain.StatePhotoChoice, err)
			c.mu.Unlock()
			c.events.SessionStateChanged(snap, domain.ReasonCaptureFailed)
			c.emitError(err)
			return
		}

		if img == nil {
			// User canceled the picker: a no-op, not a failure.
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.busy = false
			snap := c.applyLocked(domain.StatePhotoChoice, nil)
			c.mu.Unlock()
			c.events.SessionStateChanged(snap, domain.ReasonPickCanceled)
			return
		}

		c.enterAnalyzing(gen, img)
	}()
}

func (c *Controller) takePicture() {
	c.mu.Lock()
	if c.sess.state != domain.StateCapturing {
		c.violationLocked(domain.ActionTakePicture)
		c.mu.Unlock()
		return
	}
	if c.busy {
		c.mu.Unlock()
		return
	}
	handle := c.guard.Handle()
	if handle == nil {
		hwErr := &domain.HardwareError{Reason: domain.HardwareUnavailable, Detail: "camera binding lost"}
		c.hardwareUnavailable = true
		snap := c.applyLocked(domain.StatePhotoChoice, hwErr)
		c.mu.Unlock()
		c.events.SessionStateChanged(snap, domain.ReasonCameraUnavailable)
		c.emitError(hwErr)
		return
	}
	c.busy = true
	gen := c.gen
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		img, err := c.pipeline.FromCameraShot(ctx, handle)
		if err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			c.busy = false
			snap := c.applyLocked(domain.StateCapturing, err)
			c.mu.Unlock()
			c.events.SessionStateChanged(snap, domain.ReasonCaptureFailed)
			c.emitError(err)
			return
		}
		c.enterAnalyzing(gen, img)
	}()
}

func (c *Controller) switchCamera() {
	c.mu.Lock()
	if c.sess.state != domain.StateCapturing {
		c.violationLocked(domain.ActionSwitchCamera)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// A failed switch leaves the current binding usable; state is unchanged.
	if err := c.guard.SwitchFacing(); err != nil {
		c.logger.Warn("camera switch failed", "error", err)
		c.emitError(err)
	}
}

func (c *Controller) backToPhotoChoice() {
	c.mu.Lock()
	if c.sess.state != domain.StateCapturing {
		c.violationLocked(domain.ActionBackToPhotoChoice)
		c.mu.Unlock()
		return
	}
	c.busy = false
	snap := c.applyLocked(domain.StatePhotoChoice, nil)
	c.mu.Unlock()

	c.guard.Release()
	c.events.SessionStateChanged(snap, domain.ReasonCaptureAbandoned)
}

func (c *Controller) cancelAnalysisRequested() {
	c.mu.Lock()
	if c.sess.state != domain.StateAnalyzing {
		c.violationLocked(domain.ActionCancelAnalysis)
		c.mu.Unlock()
		return
	}
	cancel := c.cancelAnalysis
	c.cancelAnalysis = nil
	c.sess.selectedImage = nil
	snap := c.applyLocked(domain.StateInitial, nil)
	c.mu.Unlock()

	// The transition already made the in-flight request stale; canceling its
	// context is best-effort cleanup of the underlying call.
	if cancel != nil {
		cancel()
	}
	c.guard.Release()
	c.events.SessionStateChanged(snap, domain.ReasonAnalysisCanceled)
}

func (c *Controller) resetAnalysis() {
	c.mu.Lock()
	if c.sess.state != domain.StateResults {
		c.violationLocked(domain.ActionResetAnalysis)
		c.mu.Unlock()
		return
	}
	c.sess.reset()
	snap := c.applyLocked(domain.StateInitial, nil)
	c.mu.Unlock()
	c.events.SessionStateChanged(snap, domain.ReasonSessionReset)
}

func (c *Controller) reanalyze() {
	c.mu.Lock()
	if c.sess.state != domain.StateResults {
		c.violationLocked(domain.ActionReanalyze)
		c.mu.Unlock()
		return
	}
	c.sess.result = nil
	c.sess.selectedImage = nil
	snap := c.applyLocked(domain.StatePhotoChoice, nil)
	c.mu.Unlock()
	c.events.SessionStateChanged(snap, domain.ReasonReanalysisRequested)
}

func (c *Controller) navigateToLogin() {
	c.mu.Lock()
	if c.sess.state != domain.StateLoginRequired {
		c.violationLocked(domain.ActionNavigateToLogin)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Login is owned by the external auth UI; the session waits in
	// loginRequired until IdentityChanged re-enters the flow.
	c.logger.Info("delegating to external auth UI", "session", c.sessionID)
}

// enterAnalyzing commits a selected image and launches the analysis request.
// The authentication gate holds here for every path in: an anonymous session
// can never reach analyzing.
func (c *Controller) enterAnalyzing(gen uint64, img *domain.NormalizedImage) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.busy = false

	if c.sess.identity == nil {
		c.violationLocked(domain.ActionPickFromGallery)
		snap := c.applyLocked(domain.StateLoginRequired, domain.ErrAuthenticationRequired)
		c.mu.Unlock()
		c.events.SessionStateChanged(snap, domain.ReasonLoginRequired)
		return
	}

	c.sess.selectedImage = img
	submitCtx, cancel := context.WithCancel(c.ctx)
	c.cancelAnalysis = cancel

	snap := c.applyLocked(domain.StateAnalyzing, nil)
	analysisGen := c.gen
	identity := *c.sess.identity
	profile := c.sess.profile
	image := *img
	ctx := c.ctx
	c.mu.Unlock()

	c.events.SessionStateChanged(snap, domain.ReasonImageSelected)
	go c.runAnalysis(submitCtx, ctx, analysisGen, image, profile, identity)
}

func (c *Controller) runAnalysis(submitCtx, sessionCtx context.Context, gen uint64, image domain.NormalizedImage, profile *domain.PreferenceProfile, identity domain.Identity) {
	result, err := c.analysis.Submit(submitCtx, image, profile, &identity)

	c.mu.Lock()
	if c.gen != gen {
		// The session moved on (cancel, reset, teardown); the late result
		// must not mutate it.
		c.mu.Unlock()
		return
	}
	c.cancelAnalysis = nil

	if err != nil {
		c.sess.selectedImage = nil
		snap := c.applyLocked(domain.StateInitial, err)
		c.mu.Unlock()
		c.guard.Release()
		c.events.SessionStateChanged(snap, domain.ReasonAnalysisFailed)
		c.emitError(err)
		return
	}

	c.sess.result = &result
	snap := c.applyLocked(domain.StateResults, nil)
	c.mu.Unlock()

	c.guard.Release()
	c.events.SessionStateChanged(snap, domain.ReasonAnalysisCompleted)
	c.saveHistory(sessionCtx, identity, result, image.SourceRef)
}

func (c *Controller) emitError(err error) {
	failure := domain.Describe(err)
	if failure == nil {
		return
	}
	c.events.SessionError(*failure, err.Error())
}
