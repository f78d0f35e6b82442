// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workerpool offloads blocking work (filesystem I/O, checkpoint
// serialization) from the cooperative per-node goroutines so that no
// Source/Transform/Sink is ever stalled waiting on disk. Grounded on the
// teacher's checkpoint ToCheckpoint/FromCheckpoint pattern: a fixed number of
// workers pull from a buffered work channel, reporting failures through an
// atomic counter.
package workerpool

import (
	"sync"
	"sync/atomic"
)

// Run executes fn(item) for every item in items across n workers, blocking
// until all items have been processed. It returns the number of calls that
// returned a non-nil error and the first such error encountered.
func Run[T any](n int, items []T, fn func(T) error) (failures int, firstErr error) {
	if n <= 0 {
		n = 1
	}
	if len(items) == 0 {
		return 0, nil
	}

	work := make(chan T, n*2)
	var wg sync.WaitGroup
	var errCount int32
	var errOnce sync.Once
	var stored error

	wg.Add(n)
	for w := 0; w < n; w++ {
		go func() {
			defer wg.Done()
			for item := range work {
				if err := fn(item); err != nil {
					atomic.AddInt32(&errCount, 1)
					errOnce.Do(func() { stored = err })
				}
			}
		}()
	}

	for _, item := range items {
		work <- item
	}
	close(work)
	wg.Wait()

	return int(errCount), stored
}
