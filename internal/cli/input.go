// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// =============================================================================
// LINE INPUT
// =============================================================================

// LineReader wraps liner with persistent input history.
// USABILITY: Supports arrow keys for history navigation and line editing.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a reader whose history persists under stateDir.
// An empty stateDir falls back to the temp directory.
func NewLineReader(stateDir string) *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	if stateDir == "" {
		stateDir = os.TempDir()
	}

	r := &LineReader{
		line:        line,
		historyFile: filepath.Join(stateDir, "chat_history"),
	}
	r.loadHistory()
	return r
}

func (r *LineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line with the given prompt, recording non-empty
// input in the history.
func (r *LineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *LineReader) saveHistory() {
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (r *LineReader) Close() {
	r.saveHistory()
	r.line.Close()
}
