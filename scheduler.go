package kmsgl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultFlipTimeout  = time.Second
	defaultDrainTimeout = 500 * time.Millisecond
	defaultRetryDelay   = 2 * time.Millisecond

	missedReportInterval = 100
)

// SchedulerOptions tune a Scheduler.
type SchedulerOptions struct {
	// FlipTimeout bounds the wait for one flip completion.
	FlipTimeout time.Duration
	// DrainTimeout bounds the wait for the outstanding flip on shutdown.
	DrainTimeout time.Duration
	// RetryDelay is the pause before a transient failure is retried.
	RetryDelay time.Duration
	// Restore is written back to the CRTC on shutdown when set.
	Restore *CrtcState
	// OnTransition observes every slot state change.
	OnTransition func(Transition)
	Stats        *FrameStats
}

// Scheduler drives the frame loop: bind a free slot, render into it, commit it
// to the CRTC and wait for the hardware to confirm before the slot that left
// the screen is reused. It is owned by a single goroutine.
type Scheduler struct {
	dev      Device
	output   Output
	renderer *Renderer
	bridge   *ImportBridge
	arena    *BufferArena
	slots    []*FrameSlot
	opts     SchedulerOptions
	stats    *FrameStats
	log      logrus.FieldLogger

	frame     uint64
	modeSet   bool
	onScreen  *FrameSlot
	submitted *FrameSlot
	// ready is rendered but not committed yet.
	ready *FrameSlot
	done  bool
}

// NewScheduler creates a scheduler presenting slots on output. The scheduler
// takes ownership of the slots and tears them down on Shutdown.
func NewScheduler(dev Device, output Output, renderer *Renderer, bridge *ImportBridge,
	arena *BufferArena, slots []*FrameSlot, opts SchedulerOptions, log logrus.FieldLogger) *Scheduler {

	if opts.FlipTimeout <= 0 {
		opts.FlipTimeout = defaultFlipTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Stats == nil {
		opts.Stats = &FrameStats{}
	}

	return &Scheduler{
		dev:      dev,
		output:   output,
		renderer: renderer,
		bridge:   bridge,
		arena:    arena,
		slots:    slots,
		opts:     opts,
		stats:    opts.Stats,
		log: log.WithFields(logrus.Fields{
			"crtc":      output.Crtc.ID,
			"connector": output.Connector.ID,
		}),
	}
}

// Slots returns the buffer chain.
func (s *Scheduler) Slots() []*FrameSlot {
	return s.slots
}

// Stats returns the presentation counters.
func (s *Scheduler) Stats() *FrameStats {
	return s.stats
}

// Run ticks until frames frames have been committed, or until ctx is done when
// frames is zero. Transient failures are logged and retried; any other
// failure stops the loop. Cancellation is not an error.
func (s *Scheduler) Run(ctx context.Context, scene Scene, frames uint64) error {
	for frames == 0 || s.stats.Committed() < frames {
		err := s.Tick(ctx, scene)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		if KindOf(err).Class() != Transient {
			return err
		}

		s.log.WithError(err).Warn("Presentation failed, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.RetryDelay):
		}
	}
	return nil
}

// Tick presents one frame. A frame whose page flip was rejected stays
// rendered and is resubmitted by the next tick without drawing it again.
func (s *Scheduler) Tick(ctx context.Context, scene Scene) error {
	if s.done {
		return errors.New("tick: scheduler shut down")
	}

	if s.ready == nil {
		slot, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		if err := s.render(slot, scene); err != nil {
			return err
		}
		s.ready = slot
	}
	return s.commit(ctx)
}

// acquire returns a slot moved to Rendering. When no slot is free it waits for
// the outstanding flip, which frees the slot that left the screen.
func (s *Scheduler) acquire(ctx context.Context) (*FrameSlot, error) {
	for {
		for _, slot := range s.slots {
			if slot.State == Free {
				return slot, s.move(slot, Rendering, false)
			}
		}

		if s.submitted != nil {
			if err := s.waitFlip(ctx, s.opts.FlipTimeout); err != nil {
				return nil, err
			}
			continue
		}

		if len(s.slots) == 1 && s.onScreen != nil {
			slot := s.onScreen
			s.onScreen = nil
			return slot, s.move(slot, Rendering, true)
		}

		return nil, NewError(InvalidTransition, "acquire slot", "", errors.New("no free slot"))
	}
}

func (s *Scheduler) render(slot *FrameSlot, scene Scene) error {
	if err := s.renderer.BindTarget(slot.Surface); err != nil {
		s.abandon(slot)
		return fmt.Errorf("slot %d: %w", slot.Index, err)
	}

	s.frame++
	if err := scene.Draw(s.renderer, s.frame); err != nil {
		s.abandon(slot)
		return fmt.Errorf("render frame %d into slot %d: %w", s.frame, slot.Index, err)
	}
	if err := s.renderer.Finish(); err != nil {
		s.abandon(slot)
		return fmt.Errorf("slot %d: %w", slot.Index, err)
	}
	return nil
}

func (s *Scheduler) abandon(slot *FrameSlot) {
	if err := s.move(slot, Free, false); err != nil {
		s.log.WithError(err).Error("Failed to abandon slot")
	}
}

func (s *Scheduler) commit(ctx context.Context) error {
	slot := s.ready
	crtc := s.output.Crtc.ID

	if !s.modeSet {
		mode := s.output.Mode
		err := s.dev.SetCrtc(crtc, slot.Framebuffer.ID, []uint32{s.output.Connector.ID}, &mode)
		if err != nil {
			return NewError(ModeSetFailed, "mode set", fmt.Sprintf("crtc %d", crtc), err)
		}
		s.modeSet = true
		s.ready = nil
		s.stats.committed.Add(1)

		s.log.WithFields(logrus.Fields{
			"mode": mode,
			"fb":   slot.Framebuffer.ID,
		}).Info("Mode set")
		return s.present(slot)
	}

	if s.submitted != nil {
		if err := s.waitFlip(ctx, s.opts.FlipTimeout); err != nil {
			return err
		}
	}

	if err := s.dev.PageFlip(crtc, slot.Framebuffer.ID, uint64(slot.Index)); err != nil {
		s.stats.rejected.Add(1)
		return NewError(PageFlipRejected, "page flip", fmt.Sprintf("crtc %d", crtc), err)
	}
	s.ready = nil
	s.submitted = slot
	s.stats.committed.Add(1)
	return s.move(slot, Submitted, false)
}

func (s *Scheduler) waitFlip(ctx context.Context, timeout time.Duration) error {
	ev, err := s.dev.WaitFlip(ctx, timeout)
	if err != nil {
		if errors.Is(err, FlipTimeout) {
			s.stats.timeouts.Add(1)
		}
		return err
	}

	slot := s.submitted
	s.submitted = nil
	if ev.UserData != uint64(slot.Index) {
		s.log.WithFields(logrus.Fields{
			"slot":     slot.Index,
			"userdata": ev.UserData,
		}).Warn("Flip completion for unexpected slot")
	}

	if missed := s.stats.flipCompleted(ev); missed > 0 {
		total := s.stats.missed.Load()
		if total/missedReportInterval != (total-missed)/missedReportInterval {
			s.log.WithField("missed", total).Warn("Vblanks missed")
		}
	}
	return s.present(slot)
}

// present puts slot on screen. The slot it replaces becomes Free first so two
// slots are never on screen together.
func (s *Scheduler) present(slot *FrameSlot) error {
	if prev := s.onScreen; prev != nil && prev != slot {
		if err := s.move(prev, Free, false); err != nil {
			return err
		}
	}
	if err := s.move(slot, OnScreen, false); err != nil {
		return err
	}
	s.onScreen = slot
	s.stats.presented.Add(1)
	return nil
}

func (s *Scheduler) move(slot *FrameSlot, to SlotState, reusable bool) error {
	t, err := slot.transition(to, reusable)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"slot": t.Slot,
		"from": t.From,
		"to":   t.To,
	}).Debug("Slot transition")
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(t)
	}
	return nil
}

// Shutdown drains the outstanding flip, restores the saved CRTC configuration
// and tears every slot down in reverse order. Failures are logged. When the
// flip cannot be drained and the CRTC is not restored, the slots the hardware
// may still read are leaked instead of freed. Calling Shutdown again does
// nothing.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if s.done {
		s.log.Debug("Scheduler already shut down")
		return
	}
	s.done = true

	detached := false
	if s.submitted != nil {
		if err := s.waitFlip(ctx, s.opts.DrainTimeout); err != nil {
			s.log.WithError(err).Warn("Outstanding flip not drained, detaching")
			detached = true
		}
	}
	restored := s.restore()

	for i := len(s.slots) - 1; i >= 0; i-- {
		slot := s.slots[i]
		if detached && !restored && (slot.State == Submitted || slot.State == OnScreen) {
			s.log.WithFields(logrus.Fields{
				"slot":   slot.Index,
				"buffer": slot.Buffer,
			}).Warn("Slot may still be scanned out, leaking it")
			continue
		}
		s.teardown(slot)
	}
	s.onScreen, s.submitted, s.ready = nil, nil, nil
}

func (s *Scheduler) restore() bool {
	saved := s.opts.Restore
	if saved == nil || saved.Mode == nil || !s.modeSet {
		return false
	}
	err := s.dev.SetCrtc(saved.Crtc, saved.FramebufferID, []uint32{s.output.Connector.ID}, saved.Mode)
	if err != nil {
		s.log.WithError(err).Warn("Failed to restore CRTC")
		return false
	}
	s.log.WithField("fb", saved.FramebufferID).Info("CRTC restored")
	return true
}

func (s *Scheduler) teardown(slot *FrameSlot) {
	log := s.log.WithFields(logrus.Fields{"slot": slot.Index, "buffer": slot.Buffer})

	if err := s.bridge.Release(slot.Surface); err != nil {
		log.WithError(err).Warn("Failed to release surface")
	}
	if err := slot.Framebuffer.Unregister(); err != nil {
		log.WithError(err).Warn("Failed to unregister framebuffer")
	}
	if err := s.arena.Free(slot.Buffer); err != nil {
		log.WithError(err).Warn("Failed to free buffer")
	}
	slot.State = Free
}
