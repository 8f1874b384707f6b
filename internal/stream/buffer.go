// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// FRAGMENT BUFFER
// =============================================================================

// fragmentBuffer batches reasoning fragments for coalesced delivery.
// Fragments accumulate until either the batch size threshold is reached or
// enough time has passed since the last flush. This keeps repaint rates
// bounded while the backend emits fragments at token speed.
//
// Thread-safety: writes happen on the stream goroutine while flushes happen
// on the ticker goroutine, so all operations take the mutex.
type fragmentBuffer struct {
	mu            sync.Mutex
	buf           strings.Builder
	fragmentCount int
	lastFlush     time.Time

	batchSize     int
	flushInterval time.Duration
}

const (
	defaultBatchSize     = 15
	defaultFlushInterval = 50 * time.Millisecond
)

func newFragmentBuffer(batchSize int, interval time.Duration) *fragmentBuffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	return &fragmentBuffer{
		batchSize:     batchSize,
		flushInterval: interval,
		lastFlush:     time.Now(),
	}
}

// Write adds a fragment to the buffer.
func (fb *fragmentBuffer) Write(fragment string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.buf.WriteString(fragment)
	fb.fragmentCount++
}

// Flush returns accumulated content if either threshold has been crossed.
// The second return is false when nothing should be delivered yet.
func (fb *fragmentBuffer) Flush() (string, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.buf.Len() == 0 {
		return "", false
	}
	if fb.fragmentCount < fb.batchSize && time.Since(fb.lastFlush) < fb.flushInterval {
		return "", false
	}
	return fb.drainLocked(), true
}

// ForceFlush drains the buffer regardless of thresholds. Used when the
// stream completes so no fragment is left behind.
func (fb *fragmentBuffer) ForceFlush() (string, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.buf.Len() == 0 {
		return "", false
	}
	return fb.drainLocked(), true
}

// Reset clears the buffer without delivering. Used when a turn is aborted.
func (fb *fragmentBuffer) Reset() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.buf.Reset()
	fb.fragmentCount = 0
	fb.lastFlush = time.Now()
}

// Pending returns the number of buffered fragments.
func (fb *fragmentBuffer) Pending() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.fragmentCount
}

func (fb *fragmentBuffer) drainLocked() string {
	content := fb.buf.String()
	fb.buf.Reset()
	fb.fragmentCount = 0
	fb.lastFlush = time.Now()
	return content
}
