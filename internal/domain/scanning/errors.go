package scanning

import "errors"

var (
	// ErrJobNotFound indicates the referenced scan job is not in the registry.
	ErrJobNotFound = errors.New("scan job not found")

	// ErrJobExists indicates a job with the same request ID is already registered.
	ErrJobExists = errors.New("scan job already exists")

	// ErrScanNotFound indicates the referenced scan row does not exist.
	ErrScanNotFound = errors.New("scan not found")

	// ErrImageNotFound indicates no image row exists for the given identifier or digest.
	ErrImageNotFound = errors.New("image not found")

	// ErrReportExists indicates a raw report blob was already recorded for an adapter.
	// ScanReports are immutable after write.
	ErrReportExists = errors.New("adapter report already recorded")

	// ErrNotQueued indicates a queue operation referenced a request that is not queued.
	ErrNotQueued = errors.New("scan is not queued")

	// ErrQueueDuplicate indicates the request is already present in the queue.
	ErrQueueDuplicate = errors.New("scan is already queued or running")
)
