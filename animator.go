package kmsgl

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// SceneLoader builds the scene once the pipeline is open. It runs on the
// animator's render thread.
type SceneLoader func(p *Pipeline) (Scene, error)

// Animator runs a pipeline on a dedicated goroutine locked to its OS thread,
// which is where the rendering context stays current.
type Animator struct {
	cfg      Config
	platform Platform
	load     SceneLoader
	log      logrus.FieldLogger
	opts     []Option

	mutex     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runErr    error
	stats     *FrameStats
}

// NewAnimator creates an animator. Nothing is opened before Start.
func NewAnimator(cfg Config, platform Platform, load SceneLoader, log logrus.FieldLogger, opts ...Option) *Animator {
	return &Animator{
		cfg:      cfg,
		platform: platform,
		load:     load,
		log:      log,
		opts:     opts,
	}
}

// Start opens the pipeline and loads the scene on the render thread, then
// returns while frames keep being presented. Startup failures are returned
// here. The animator runs until ctx is done, Stop is called or the
// configured number of frames has been committed.
func (a *Animator) Start(ctx context.Context) error {
	a.mutex.Lock()
	if a.isRunning {
		a.mutex.Unlock()
		return errors.New("animator is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.isRunning = true
	a.cancel = cancel
	a.done = make(chan struct{})
	a.runErr = nil
	a.stats = nil
	done := a.done
	a.mutex.Unlock()

	started := make(chan error, 1)
	go a.doDraw(ctx, started, done)

	if err := <-started; err != nil {
		<-done
		return err
	}
	return nil
}

// Stop cancels presentation, waits for the pipeline to close and returns the
// error that ended the run, if any.
func (a *Animator) Stop() error {
	a.mutex.Lock()
	cancel, done := a.cancel, a.done
	a.mutex.Unlock()

	if cancel == nil {
		return errors.New("animator is not running")
	}
	cancel()
	<-done
	return a.Err()
}

// Wait blocks until the run ends and returns its error.
func (a *Animator) Wait() error {
	a.mutex.Lock()
	done := a.done
	a.mutex.Unlock()

	if done == nil {
		return errors.New("animator is not running")
	}
	<-done
	return a.Err()
}

// Running reports whether the render thread is alive.
func (a *Animator) Running() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.isRunning
}

// Err returns the error that ended the last run.
func (a *Animator) Err() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.runErr
}

// Stats returns a snapshot of the presentation counters. It is zero before
// the pipeline has opened.
func (a *Animator) Stats() StatsSnapshot {
	a.mutex.Lock()
	stats := a.stats
	a.mutex.Unlock()

	if stats == nil {
		return StatsSnapshot{}
	}
	return stats.Snapshot()
}

func (a *Animator) doDraw(ctx context.Context, started chan<- error, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var err error
	defer func() {
		a.mutex.Lock()
		a.isRunning = false
		a.runErr = err
		a.cancel()
		a.mutex.Unlock()
		close(done)
	}()

	p, err := Open(a.cfg, a.platform, a.log, a.opts...)
	if err != nil {
		started <- err
		return
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("Failed to close pipeline")
		}
		a.log.WithFields(p.Stats().Snapshot().Fields()).Info("Animator stopped")
	}()

	scene, err := a.load(p)
	if err != nil {
		started <- err
		return
	}

	a.mutex.Lock()
	a.stats = p.Stats()
	a.mutex.Unlock()
	started <- nil

	err = p.Run(ctx, scene)
}
