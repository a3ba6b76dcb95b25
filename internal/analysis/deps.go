// Package analysis runs nexus calculations for stored analyses as cancellable
// background runs and tracks their progress.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/service"
)

// ErrMissingDependency is joined once per unset field of Deps.
var ErrMissingDependency = errors.New("missing dependency")

// Deps are the collaborators a Manager cannot run without.
type Deps struct {
	Storage    service.Storage
	Calculator Calculator
	Runs       RunStore
}

// Validate reports every unset dependency at once.
func (d *Deps) Validate() error {
	var errs []error
	missing := func(unset bool, name string) {
		if unset {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingDependency, name))
		}
	}
	missing(d.Storage == nil, "storage")
	missing(d.Calculator == nil, "calculator")
	missing(d.Runs == nil, "run store")
	return errors.Join(errs...)
}

// Config tunes a Manager. The zero value is usable; NewManager fills Now.
type Config struct {
	Now func() time.Time
	// Retry covers the final result write, which can collide with a
	// concurrent import on the single SQLite connection.
	Retry common.RetryOptions
}

// DefaultConfig retries result writes for roughly four seconds.
func DefaultConfig() Config {
	return Config{
		Now:   time.Now,
		Retry: common.RetryOptions{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2},
	}
}

// Manager submits runs, tracks them while they execute, and lets callers poll,
// wait on, or cancel them.
type Manager struct {
	deps    Deps
	cfg     Config
	baseCtx context.Context
	stop    context.CancelFunc
	active  map[string]*activeRun
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new run manager with the provided dependencies.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		baseCtx: baseCtx,
		stop:    stop,
		active:  make(map[string]*activeRun),
	}, nil
}
