package kmsgl

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Pipeline is a display pipeline assembled on one output: device, buffer
// chain, rendering context and scheduler. Every method must be called from
// the goroutine that called Open, and that goroutine must stay on its OS
// thread while the pipeline is open.
type Pipeline struct {
	cfg      Config
	settings settings
	log      logrus.FieldLogger

	dev       Device
	output    Output
	arena     *BufferArena
	display   RenderDisplay
	gpu       GPU
	bridge    *ImportBridge
	renderer  *Renderer
	slots     []*FrameSlot
	streams   []*StreamTexture
	scheduler *Scheduler
	stats     FrameStats
	closed    bool
}

// Open assembles a pipeline. Steps run in dependency order and a failing step
// releases what the previous ones acquired: no output is selected before the
// device opens, and no buffer is allocated before the output is selected and
// every rendering capability is known to be present.
func Open(cfg Config, platform Platform, log logrus.FieldLogger, opts ...Option) (*Pipeline, error) {
	s, err := cfg.settings()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{cfg: cfg, settings: s, log: log}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	if p.dev, err = platform.OpenDevice(cfg.Device, log); err != nil {
		return nil, err
	}

	res, err := p.dev.Enumerate()
	if err != nil {
		return nil, err
	}
	if p.output, err = SelectOutput(res, s.modePolicy); err != nil {
		return nil, err
	}
	p.log = log.WithFields(logrus.Fields{
		"crtc":      p.output.Crtc.ID,
		"connector": p.output.Connector.ID,
	})
	p.log.WithField("mode", p.output.Mode).Info("Output selected")

	alloc, err := platform.NewAllocator(p.dev, log)
	if err != nil {
		return nil, err
	}
	p.arena = NewBufferArena(alloc, log)

	if p.display, err = platform.CreateDisplay(alloc, log); err != nil {
		return nil, err
	}
	if p.gpu, err = platform.CreateContext(p.display, cfg.GLESVersion, log); err != nil {
		return nil, err
	}

	p.bridge = NewImportBridge(p.display, p.gpu, p.arena, log)
	if err = p.bridge.CheckCapabilities(); err != nil {
		return nil, err
	}
	p.renderer = NewRenderer(p.gpu, s.gpuSync, s.clearColor, log)

	for i := 0; i < cfg.Buffers; i++ {
		slot, err := p.newSlot(i)
		if err != nil {
			return nil, err
		}
		p.slots = append(p.slots, slot)
	}

	var saved *CrtcState
	if cfg.RestoreCrtc {
		if st, err := p.dev.Crtc(p.output.Crtc.ID); err != nil {
			p.log.WithError(err).Warn("Failed to save CRTC, it will not be restored")
		} else {
			saved = &st
		}
	}

	p.scheduler = NewScheduler(p.dev, p.output, p.renderer, p.bridge, p.arena, p.slots, SchedulerOptions{
		FlipTimeout:  cfg.FlipTimeout,
		DrainTimeout: cfg.DrainTimeout,
		RetryDelay:   cfg.RetryDelay,
		Restore:      saved,
		OnTransition: o.onTransition,
		Stats:        &p.stats,
	}, log)

	p.log.WithFields(logrus.Fields{
		"buffers": cfg.Buffers,
		"format":  s.format,
		"sync":    p.renderer.SyncMode(),
	}).Info("Pipeline ready")
	ok = true
	return p, nil
}

// newSlot allocates a buffer sized to the selected mode, registers it for
// scanout and imports it as a render target.
func (p *Pipeline) newSlot(index int) (*FrameSlot, error) {
	mode := p.output.Mode
	id, err := p.arena.Allocate(mode.Width, mode.Height, p.settings.format, UsageScanout|UsageRendering)
	if err != nil {
		return nil, err
	}
	slot := &FrameSlot{Index: index, Buffer: id, State: Free}

	ok := false
	defer func() {
		if !ok {
			p.destroySlot(slot)
		}
	}()

	if slot.Framebuffer, err = RegisterFramebuffer(p.dev, p.arena, id, p.log); err != nil {
		return nil, err
	}
	if slot.Surface, err = p.bridge.ImportBuffer(id); err != nil {
		return nil, err
	}
	ok = true
	return slot, nil
}

// destroySlot releases a slot that never reached the scheduler.
func (p *Pipeline) destroySlot(slot *FrameSlot) {
	if slot == nil {
		return
	}
	log := p.log.WithFields(logrus.Fields{"slot": slot.Index, "buffer": slot.Buffer})
	if err := p.bridge.Release(slot.Surface); err != nil {
		log.WithError(err).Warn("Failed to release surface")
	}
	if err := slot.Framebuffer.Unregister(); err != nil {
		log.WithError(err).Warn("Failed to unregister framebuffer")
	}
	if err := p.arena.Free(slot.Buffer); err != nil {
		log.WithError(err).Warn("Failed to free buffer")
	}
}

// Output returns the selected output.
func (p *Pipeline) Output() Output {
	return p.output
}

// Renderer returns the renderer, for loading programs.
func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}

// Scheduler returns the presentation scheduler.
func (p *Pipeline) Scheduler() *Scheduler {
	return p.scheduler
}

// Stats returns the presentation counters. The result may be read from any
// goroutine.
func (p *Pipeline) Stats() *FrameStats {
	return &p.stats
}

// Run presents scene until ctx is done, or for the configured number of
// frames.
func (p *Pipeline) Run(ctx context.Context, scene Scene) error {
	return p.scheduler.Run(ctx, scene, p.cfg.Frames)
}

// Close shuts the scheduler down and releases every resource in reverse
// order of acquisition. Closing twice does nothing.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if p.scheduler != nil {
		p.scheduler.Shutdown(context.Background())
	} else {
		for i := len(p.slots) - 1; i >= 0; i-- {
			p.destroySlot(p.slots[i])
		}
	}
	for i := len(p.streams) - 1; i >= 0; i-- {
		if err := p.streams[i].Close(); err != nil {
			p.log.WithError(err).Warn("Failed to release stream texture")
		}
	}

	if p.gpu != nil {
		if err := p.gpu.Destroy(); err != nil {
			p.log.WithError(err).Warn("Failed to destroy context")
		}
	}
	if p.display != nil {
		if err := p.display.Terminate(); err != nil {
			p.log.WithError(err).Warn("Failed to terminate display")
		}
	}
	if p.arena != nil {
		if err := p.arena.Close(); err != nil {
			p.log.WithError(err).Warn("Failed to close allocator")
		}
	}
	if p.dev != nil {
		return p.dev.Close()
	}
	return nil
}

// Option configures Open.
type Option func(*options)

type options struct {
	onTransition func(Transition)
}

// WithTransitionHook calls fn on every slot state change.
func WithTransitionHook(fn func(Transition)) Option {
	return func(o *options) {
		o.onTransition = fn
	}
}
