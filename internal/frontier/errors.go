package frontier

import "errors"

var (
	// ErrNoWork is returned by Next when every queue is empty or busy.
	ErrNoWork = errors.New("no work available")
	// ErrTerminated is returned once the crawl job has been terminated.
	ErrTerminated = errors.New("frontier terminated")
	// ErrProtocol signals a broken relearning batch contract upstream.
	ErrProtocol = errors.New("frontier protocol violation")
	// ErrBatchFailed means the reordering service could not resolve a batch.
	ErrBatchFailed = errors.New("relearning batch failed")
	// ErrConfig reports configuration misuse detected at the point of use.
	ErrConfig = errors.New("invalid frontier configuration")
)
