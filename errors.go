// Package bench is a micro-benchmark harness for log-storage plugins. It
// plans a synthetic workload, batches it, drives a storage.Writer while
// timing each write and sampling the allocator, and reports the results as
// CSV.
package bench

import "errors"

var (
	// ErrMissingArguments is returned when required command line arguments are absent.
	ErrMissingArguments = errors.New("missing required arguments")

	// ErrConfigDecode indicates a malformed benchmark configuration.
	ErrConfigDecode = errors.New("config decode failed")

	// ErrWriter indicates the storage writer failed.
	ErrWriter = errors.New("storage writer failed")
)
