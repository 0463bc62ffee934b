package repository

import "errors"

var (
	// ErrElementNotFound is the transient probe outcome: a selector did not
	// appear within its bounded wait.
	ErrElementNotFound = errors.New("element not found within timeout")
	// ErrNavigationFailed is returned once navigation retries are exhausted.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrVerificationFailed means a bot-verification interstitial could not be cleared.
	ErrVerificationFailed = errors.New("verification challenge failed")
	// ErrExtractionFailed marks malformed or missing structured page data.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrPersistenceFailed marks an item whose stub or scrape job could not be committed.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrUnknownUseCase is a configuration error of the challenge resolver.
	ErrUnknownUseCase = errors.New("unknown challenge use case")
	// ErrQueuePaused is returned when admission to the queues is stopped.
	ErrQueuePaused = errors.New("queue is paused")
	// ErrQueueEmpty is returned by Dequeue when no job arrived before the poll timeout.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)
