// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"sync/atomic"
	"time"
)

// Task is cancellable delayed function. Cancel after task started has no effect.
type Task struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Schedule runs f after d on its own goroutine
func Schedule(d time.Duration, f func()) *Task {
	t := &Task{}
	t.timer = time.AfterFunc(d, func() {
		if t.cancelled.Load() {
			return
		}
		f()
	})
	return t
}

// Cancel returns true if task was stopped before it ran
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	t.cancelled.Store(true)
	return t.timer.Stop()
}
