// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package location

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// =============================================================================
// FIXED SOURCE
// =============================================================================

// FixedSource serves config-pinned coordinates. Permission is always granted
// since no platform access is involved.
type FixedSource struct {
	Latitude  float64
	Longitude float64
}

// Position implements Source.
func (s *FixedSource) Position(ctx context.Context) (*Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Position{Latitude: s.Latitude, Longitude: s.Longitude}, nil
}

// Permission implements Source.
func (s *FixedSource) Permission() Permission {
	return PermissionGranted
}

// =============================================================================
// COMMAND SOURCE
// =============================================================================

// CommandSource resolves the position by running a helper command (a
// CoreLocation shim on macOS, geoclue's /usr/bin/where-am-i or similar on
// Linux) expected to print JSON {"latitude": .., "longitude": ..,
// "accuracy"?: ..} on stdout.
//
// Permission state is learned from outcomes: a permission-shaped failure
// flips the state to denied, a success to granted. Until the first attempt
// it stays unknown.
type CommandSource struct {
	// Command and optional arguments of the helper.
	Command string
	Args    []string

	mu         sync.Mutex
	permission Permission
}

// commandOutput is the helper's expected stdout payload.
type commandOutput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Position implements Source.
func (s *CommandSource) Position(ctx context.Context) (*Position, error) {
	out, err := exec.CommandContext(ctx, s.Command, s.Args...).Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, s.classifyExecError(err)
	}

	var payload commandOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, &PositionError{
			Kind: KindUnavailable,
			Err:  fmt.Errorf("helper output not parseable: %w", err),
		}
	}

	s.setPermission(PermissionGranted)
	return &Position{
		Latitude:  payload.Latitude,
		Longitude: payload.Longitude,
		Accuracy:  payload.Accuracy,
	}, nil
}

// Permission implements Source.
func (s *CommandSource) Permission() Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *CommandSource) setPermission(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = p
}

// classifyExecError maps a helper failure to a position error. Helpers
// signal a denied permission by mentioning it on stderr.
func (s *CommandSource) classifyExecError(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		stderr := strings.ToLower(string(exitErr.Stderr))
		if strings.Contains(stderr, "permission") || strings.Contains(stderr, "denied") || strings.Contains(stderr, "not authorized") {
			s.setPermission(PermissionDenied)
			return &PositionError{Kind: KindPermissionDenied, Err: err}
		}
	}
	return &PositionError{Kind: KindUnavailable, Err: err}
}
