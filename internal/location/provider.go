// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a one-shot position request.
const DefaultTimeout = 10 * time.Second

// defaultWatchInterval is the polling cadence for Watch.
const defaultWatchInterval = 30 * time.Second

// =============================================================================
// TYPES
// =============================================================================

// Position is a resolved coordinate pair.
type Position struct {
	Latitude  float64
	Longitude float64

	// Accuracy in meters, 0 when the source does not report it.
	Accuracy float64

	Timestamp time.Time
}

// Permission is the provider's view of position access.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

// String returns the permission name.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a position failure.
type ErrorKind int

const (
	KindPermissionDenied ErrorKind = iota
	KindUnavailable
	KindTimeout
)

// PositionError is a classified position failure.
type PositionError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface with a user-presentable cause.
func (e *PositionError) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		return fmt.Sprintf("location permission denied: %v", e.Err)
	case KindTimeout:
		return fmt.Sprintf("location request timed out: %v", e.Err)
	default:
		return fmt.Sprintf("position unavailable: %v", e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *PositionError) Unwrap() error {
	return e.Err
}

// Source is a platform position backend.
type Source interface {
	// Position resolves the current coordinates, honoring ctx cancellation.
	// Failures should be returned as *PositionError where classifiable.
	Position(ctx context.Context) (*Position, error)

	// Permission reports the source's permission state, PermissionUnknown
	// when the platform exposes no such signal.
	Permission() Permission
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider caches the most recent position and classifies source failures.
// All methods are safe for concurrent use.
type Provider struct {
	mu      sync.Mutex
	source  Source
	current *Position

	timeout       time.Duration
	watchInterval time.Duration
	autoRequest   bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithTimeout sets the one-shot request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithWatchInterval sets the Watch polling cadence.
func WithWatchInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.watchInterval = d
		}
	}
}

// WithAutoRequest enables automatic one-shot retrieval on Start, applied
// only when permission is already granted. It never triggers a permission
// prompt on its own.
func WithAutoRequest(enabled bool) Option {
	return func(p *Provider) { p.autoRequest = enabled }
}

// NewProvider creates a provider over the given source.
func NewProvider(source Source, opts ...Option) *Provider {
	p := &Provider{
		source:        source,
		timeout:       DefaultTimeout,
		watchInterval: defaultWatchInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Permission reports the source's permission state.
func (p *Provider) Permission() Permission {
	return p.source.Permission()
}

// Cached returns the most recently resolved position, nil if none.
func (p *Provider) Cached() *Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Coordinates returns cached latitude/longitude pointers suitable for a chat
// request, nil when no position is cached.
func (p *Provider) Coordinates() (lat, lon *float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	la, lo := p.current.Latitude, p.current.Longitude
	return &la, &lo
}

// Current resolves the position once, bounded by the configured timeout.
// The result is cached on success.
func (p *Provider) Current(ctx context.Context) (*Position, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pos, err := p.source.Position(ctx)
	if err != nil {
		return nil, classify(err)
	}

	p.mu.Lock()
	p.current = pos
	p.mu.Unlock()
	return pos, nil
}

// Watch polls the source continuously, invoking fn with each update or
// classified error. It returns a stop function; stopping is idempotent.
func (p *Provider) Watch(ctx context.Context, fn func(*Position, error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(p.watchInterval)
		defer ticker.Stop()

		// Immediate first reading, then the ticker cadence.
		p.watchOnce(ctx, fn)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.watchOnce(ctx, fn)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

func (p *Provider) watchOnce(ctx context.Context, fn func(*Position, error)) {
	pos, err := p.Current(ctx)
	if ctx.Err() != nil {
		return // Stopped; do not deliver
	}
	fn(pos, err)
}

// AutoRequest performs the configured startup retrieval: a one-shot request
// only when auto-request is enabled and permission is already granted.
// Returns (nil, nil) when the preconditions do not hold.
func (p *Provider) AutoRequest(ctx context.Context) (*Position, error) {
	if !p.autoRequest || p.source.Permission() != PermissionGranted {
		return nil, nil
	}
	return p.Current(ctx)
}

// ClearLocation drops the cached position.
func (p *Provider) ClearLocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

// classify wraps err in a *PositionError, mapping context deadline errors to
// the timeout kind. Errors already classified pass through.
func classify(err error) error {
	var posErr *PositionError
	if errors.As(err, &posErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &PositionError{Kind: KindTimeout, Err: err}
	}
	return &PositionError{Kind: KindUnavailable, Err: err}
}
