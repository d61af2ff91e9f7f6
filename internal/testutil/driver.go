package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/roach88/appshot/internal/harness"
)

// FakeLauncher is a scriptable harness.Launcher.
//
// Every launched App is backed by a real Sleeper process, so tests can check
// through the operating system that teardown really terminated it. Failure
// fields inject an error (or a panic) at one lifecycle step.
type FakeLauncher struct {
	t testing.TB

	LaunchErr         error
	SurfacesErr       error
	HideSurfaces      bool // never expose a surface
	SurfaceAfterPolls int  // number of empty Surfaces() answers before the first surface
	NeverReady        bool // WaitLoad blocks until its context ends
	IgnoreContext     bool // with NeverReady: block forever, ignoring ctx
	WaitErr           error
	ShotErr           error
	Image             []byte
	PanicIn           harness.Step
	LeakOnClose       bool // Close leaves the process running
	CloseErr          error

	mu      sync.Mutex
	apps    []*FakeApp
	targets []harness.Target
	pids    []int
}

// NewFakeLauncher creates a launcher whose apps capture a 64x48 PNG.
func NewFakeLauncher(t testing.TB) *FakeLauncher {
	return &FakeLauncher{t: t, Image: PNG(64, 48)}
}

// Launch implements harness.Launcher.
func (l *FakeLauncher) Launch(ctx context.Context, target harness.Target) (harness.App, error) {
	l.mu.Lock()
	l.targets = append(l.targets, target)
	l.mu.Unlock()

	if l.PanicIn == harness.StepLaunch {
		panic("fake launcher: launch panic")
	}
	if target.Executable == "" {
		return nil, errors.New("executable is required")
	}

	s := StartSleeper(l.t)
	l.mu.Lock()
	l.pids = append(l.pids, s.PID())
	l.mu.Unlock()

	if l.LaunchErr != nil {
		// The process started and died; a driver cleans that up itself.
		s.Kill()
		return nil, l.LaunchErr
	}

	app := &FakeApp{l: l, sleeper: s}
	l.mu.Lock()
	l.apps = append(l.apps, app)
	l.mu.Unlock()
	return app, nil
}

// Apps returns every app successfully launched.
func (l *FakeLauncher) Apps() []*FakeApp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeApp(nil), l.apps...)
}

// Targets returns every target passed to Launch.
func (l *FakeLauncher) Targets() []harness.Target {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]harness.Target(nil), l.targets...)
}

// PIDs returns the process id of every process started, including those of
// failed launches.
func (l *FakeLauncher) PIDs() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.pids...)
}

// FakeApp is the harness.App returned by FakeLauncher.
type FakeApp struct {
	l       *FakeLauncher
	sleeper *Sleeper

	mu     sync.Mutex
	polls  int
	closed int
}

// PID implements harness.App.
func (a *FakeApp) PID() int {
	return a.sleeper.PID()
}

// Surfaces implements harness.App.
func (a *FakeApp) Surfaces(ctx context.Context) ([]harness.Surface, error) {
	if a.l.PanicIn == harness.StepAcquire {
		panic("fake app: surfaces panic")
	}
	if a.l.SurfacesErr != nil {
		return nil, a.l.SurfacesErr
	}

	a.mu.Lock()
	a.polls++
	polls := a.polls
	a.mu.Unlock()

	if a.l.HideSurfaces || polls <= a.l.SurfaceAfterPolls {
		return nil, nil
	}
	return []harness.Surface{&FakeSurface{app: a, index: 0}, &FakeSurface{app: a, index: 1}}, nil
}

// Close implements harness.App.
func (a *FakeApp) Close() error {
	a.mu.Lock()
	a.closed++
	a.mu.Unlock()

	if !a.l.LeakOnClose {
		a.sleeper.Kill()
	}
	return a.l.CloseErr
}

// CloseCount returns how many times Close was called.
func (a *FakeApp) CloseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Polls returns how many times Surfaces was called.
func (a *FakeApp) Polls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

// FakeSurface is the harness.Surface exposed by FakeApp.
type FakeSurface struct {
	app   *FakeApp
	index int
}

// WaitLoad implements harness.Surface.
func (s *FakeSurface) WaitLoad(ctx context.Context) error {
	l := s.app.l
	if l.PanicIn == harness.StepAwait {
		panic("fake surface: wait panic")
	}
	if l.NeverReady {
		if l.IgnoreContext {
			select {}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return l.WaitErr
}

// Screenshot implements harness.Surface.
func (s *FakeSurface) Screenshot(ctx context.Context) ([]byte, error) {
	l := s.app.l
	if l.PanicIn == harness.StepCapture {
		panic("fake surface: screenshot panic")
	}
	if s.index != 0 {
		return nil, fmt.Errorf("fake surface %d is not the first surface", s.index)
	}
	if l.ShotErr != nil {
		return nil, l.ShotErr
	}
	return l.Image, nil
}
