package kmsgl

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	testVertexShader = `attribute vec4 pos;
void main() {
  gl_Position = pos;
}
`
	testFragmentShader = `precision mediump float;
void main() {
  gl_FragColor = vec4(1.0, 0.0, 0.0, 1.0);
}
`
)

var testTriangle = Mesh{
	Vertices:   []float32{0, 0.5, 0, -0.5, -0.5, 0, 0.5, -0.5, 0},
	Components: 3,
}

func testLogger(t *testing.T) logrus.FieldLogger {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)
	return log
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Device = NullDevicePath
	cfg.FlipTimeout = 50 * time.Millisecond
	cfg.DrainTimeout = 20 * time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func openTestPipeline(t *testing.T, cfg Config, plat *NullPlatform, opts ...Option) *Pipeline {
	t.Helper()
	p, err := Open(cfg, plat, testLogger(t), opts...)
	if err != nil {
		t.Fatalf("open pipeline: %v", err)
	}
	return p
}

func testScene(t *testing.T, p *Pipeline) *StaticScene {
	t.Helper()
	prog, err := p.Renderer().LoadProgram(testVertexShader, testFragmentShader, []string{"pos"})
	if err != nil {
		t.Fatalf("load program: %v", err)
	}
	return &StaticScene{Program: prog, Mesh: testTriangle}
}
