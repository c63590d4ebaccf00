package kmsgl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loadTestScene(p *Pipeline) (Scene, error) {
	prog, err := p.Renderer().LoadProgram(testVertexShader, testFragmentShader, []string{"pos"})
	if err != nil {
		return nil, err
	}
	return &StaticScene{Program: prog, Mesh: testTriangle}, nil
}

func TestAnimatorRunsConfiguredFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Frames = 5
	plat := NewNullPlatform()

	a := NewAnimator(cfg, plat, loadTestScene, testLogger(t))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if a.Running() {
		t.Error("animator still running after Wait")
	}
	st := a.Stats()
	if st.Committed != 5 {
		t.Errorf("committed = %d, want 5", st.Committed)
	}
	if st.Presented < 4 {
		t.Errorf("presented = %d, want at least 4", st.Presented)
	}
	if !plat.Device().Closed() {
		t.Error("device left open")
	}
}

func TestAnimatorStartTwice(t *testing.T) {
	a := NewAnimator(testConfig(), NewNullPlatform(), loadTestScene, testLogger(t))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	if a.Running() {
		t.Error("animator still running after Stop")
	}
}

func TestAnimatorStopsWithContext(t *testing.T) {
	plat := NewNullPlatform()
	a := NewAnimator(testConfig(), plat, loadTestScene, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := a.Wait(); err != nil {
		t.Errorf("wait: %v", err)
	}
	if got := plat.Device().Framebuffers(); got != 0 {
		t.Errorf("%d framebuffers left registered", got)
	}
}

func TestAnimatorStartupFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Device = "/dev/dri/card9"

	a := NewAnimator(cfg, NewNullPlatform(), loadTestScene, testLogger(t))
	err := a.Start(context.Background())
	if !errors.Is(err, DeviceUnavailable) {
		t.Fatalf("start error = %v, want DeviceUnavailable", err)
	}
	if a.Running() {
		t.Error("animator running after failed start")
	}
	if st := a.Stats(); st.Committed != 0 {
		t.Errorf("committed = %d before any frame", st.Committed)
	}
}

func TestAnimatorSceneLoadFailure(t *testing.T) {
	plat := NewNullPlatform()
	load := func(p *Pipeline) (Scene, error) {
		_, err := p.Renderer().LoadProgram("#error broken", testFragmentShader, nil)
		return nil, err
	}

	a := NewAnimator(testConfig(), plat, load, testLogger(t))
	err := a.Start(context.Background())
	if !errors.Is(err, ShaderCompileFailed) {
		t.Fatalf("start error = %v, want ShaderCompileFailed", err)
	}
	if !plat.Device().Closed() {
		t.Error("pipeline not closed after scene load failure")
	}
}

func TestAnimatorStopBeforeStart(t *testing.T) {
	a := NewAnimator(testConfig(), NewNullPlatform(), loadTestScene, testLogger(t))
	if err := a.Stop(); err == nil {
		t.Error("Stop on an idle animator succeeded")
	}
	if err := a.Wait(); err == nil {
		t.Error("Wait on an idle animator succeeded")
	}
}
