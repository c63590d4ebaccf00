// Command kmsgl-triangle draws a red triangle on a grey background straight to
// a display with no window system, flipping between GPU-rendered buffers.
// With --map it instead draws a quad textured from a buffer the CPU rewrites
// every frame through a mapping.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rmcsoft/kmsgl"
	"github.com/rmcsoft/kmsgl/kms"
)

const (
	vertexShader = `attribute vec4 pos;
void main() {
  gl_Position = pos;
}
`
	fragmentShader = `precision mediump float;
void main() {
  gl_FragColor = vec4(1.0, 0.0, 0.0, 1.0);
}
`
	streamVertexShader = `attribute vec4 pos;
varying vec2 uv;
void main() {
  gl_Position = pos;
  uv = pos.xy * 0.5 + 0.5;
}
`
	streamFragmentShader = `precision mediump float;
uniform sampler2D tex;
varying vec2 uv;
void main() {
  gl_FragColor = vec4(texture2D(tex, uv).rgb, 1.0);
}
`

	streamSize = 512
	// Frames for the checker pattern to slide by two squares.
	streamPeriod = 120
)

var triangle = kmsgl.Mesh{
	Vertices: []float32{
		0.0, 0.5, 0.0,
		-0.5, -0.5, 0.0,
		0.5, -0.5, 0.0,
	},
	Components: 3,
}

var quad = kmsgl.Mesh{
	Vertices: []float32{
		-0.75, -0.75,
		0.75, -0.75,
		0.75, 0.75,
		-0.75, -0.75,
		0.75, 0.75,
		-0.75, 0.75,
	},
	Components: 2,
}

type options struct {
	Config      string        `short:"c" long:"config"      description:"YAML configuration file"`
	Device      string        `short:"d" long:"device"      description:"DRM device node"`
	Buffers     int           `short:"b" long:"buffers"     description:"Number of buffers in the chain (1-3)"`
	Frames      uint64        `short:"n" long:"frames"      description:"Stop after this many frames, 0 runs until interrupted"`
	Allocator   string        `long:"allocator"             description:"Buffer backend" choice:"gbm" choice:"dumb"`
	Null        bool          `long:"null"                  description:"Run on the simulated device instead of hardware"`
	Map         bool          `long:"map"                   description:"Texture a quad from a CPU-mapped buffer"`
	Verbose     bool          `short:"v" long:"verbose"     description:"Log at debug level"`
	LogFormat   string        `long:"log-format"            description:"Log format" choice:"text" choice:"json"`
	StatsPeriod time.Duration `long:"stats-period"          description:"Interval between statistics reports" default:"5s"`
}

func parseCmd() options {
	var opts options
	var cmdParser = flags.NewParser(&opts, flags.Default)

	if _, err := cmdParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return opts
}

func loadConfig(opts options) (kmsgl.Config, error) {
	cfg := kmsgl.DefaultConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = kmsgl.LoadConfig(opts.Config); err != nil {
			return cfg, err
		}
	}

	if opts.Device != "" {
		cfg.Device = opts.Device
	}
	if opts.Buffers != 0 {
		cfg.Buffers = opts.Buffers
	}
	if opts.Frames != 0 {
		cfg.Frames = opts.Frames
	}
	if opts.Allocator != "" {
		cfg.Allocator = opts.Allocator
	}
	if opts.Null {
		cfg.Device = kmsgl.NullDevicePath
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	return cfg, cfg.Validate()
}

func loadScene(p *kmsgl.Pipeline) (kmsgl.Scene, error) {
	prog, err := p.Renderer().LoadProgram(vertexShader, fragmentShader, []string{"pos"})
	if err != nil {
		return nil, err
	}
	return &kmsgl.StaticScene{Program: prog, Mesh: triangle}, nil
}

func loadStreamScene(p *kmsgl.Pipeline) (kmsgl.Scene, error) {
	prog, err := p.Renderer().LoadProgram(streamVertexShader, streamFragmentShader, []string{"pos"})
	if err != nil {
		return nil, err
	}
	tex, err := p.NewStreamTexture(streamSize, streamSize)
	if err != nil {
		prog.Delete()
		return nil, err
	}
	return &kmsgl.StreamScene{
		Program: prog,
		Mesh:    quad,
		Texture: tex,
		Fill:    kmsgl.Checker(streamPeriod),
	}, nil
}

func reportStats(ctx context.Context, a *kmsgl.Animator, period time.Duration, log logrus.FieldLogger) error {
	if period <= 0 {
		return nil
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.WithFields(a.Stats().Fields()).Info("Presentation statistics")
		}
	}
}

func run(opts options, log *logrus.Logger, cfg kmsgl.Config) error {
	var platform kmsgl.Platform = kms.Platform{Allocator: cfg.Allocator}
	if cfg.Device == kmsgl.NullDevicePath {
		platform = kmsgl.NewNullPlatform()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	load := loadScene
	if opts.Map {
		load = loadStreamScene
	}
	animator := kmsgl.NewAnimator(cfg, platform, load, log)
	if err := animator.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return animator.Wait()
	})
	g.Go(func() error {
		rctx, cancel := context.WithCancel(gctx)
		defer cancel()
		go func() {
			select {
			case <-done:
				cancel()
			case <-rctx.Done():
			}
		}()
		return reportStats(rctx, animator, opts.StatsPeriod, log)
	})
	return g.Wait()
}

func main() {
	opts := parseCmd()

	cfg, err := loadConfig(opts)
	log, lerr := kmsgl.NewLogger(cfg.Log, os.Stderr)
	if lerr != nil {
		log = logrus.New()
		log.WithError(lerr).Warn("Invalid log configuration, using defaults")
	}
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if err := run(opts, log, cfg); err != nil {
		var kerr *kmsgl.Error
		if errors.As(err, &kerr) {
			log.WithFields(logrus.Fields{
				"stage":    kerr.Stage,
				"resource": kerr.Resource,
				"class":    kerr.Kind.Class(),
			}).WithError(err).Fatal("Pipeline failed")
		}
		log.WithError(err).Fatal("Pipeline failed")
	}
}
