// Package mono provides a single monotonic clock source for the rest of
// the tree, so that engine ticks, token deadlines and housekeeping
// intervals can all be exercised against the same notion of "now".
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start. It is strictly
// monotonic (time.Since never observes wall-clock adjustments) and cheap
// enough to call once per engine loop iteration.
func NanoTime() int64 { return int64(time.Since(start)) }

// MicroTime returns microseconds elapsed since process start, the unit
// `timer_logic` and the token-service deadline are specified in.
func MicroTime() int64 { return NanoTime() / int64(time.Microsecond) }
