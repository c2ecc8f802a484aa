// Package sys provides the handful of OS-level facts and actions the
// engine needs: how many cores are available, and how to pin the calling
// OS thread to one of them.
/*
 * Copyright (c) 2024, OmniStack authors.
 */
package sys

import "runtime"

// NumCPU returns the number of logical CPUs usable by this process.
func NumCPU() int { return runtime.NumCPU() }
