package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCorpusEmpty signals that no eligible documents were found to index.
	ErrCorpusEmpty = errors.New("corpus is empty")
	// ErrEmbeddingService signals an embedding capability failure.
	ErrEmbeddingService = errors.New("embedding service error")
	// ErrIndexCorrupt signals an unreadable or dimension-mismatched snapshot.
	ErrIndexCorrupt = errors.New("index snapshot corrupt")
	// ErrSnapshotMissing signals that load mode was requested but no snapshot exists.
	ErrSnapshotMissing = errors.New("index snapshot not found")
	// ErrGeneration signals a generation capability failure.
	ErrGeneration = errors.New("generation error")
	// ErrSessionBusy signals that a session already has a request in flight.
	ErrSessionBusy = errors.New("session is awaiting a response")
	// ErrSessionNotFound signals an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// GenerationError is returned when the generation stream fails after it was
// opened. Partial holds the text produced before the failure.
type GenerationError struct {
	Partial string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s after %d bytes: %v", ErrGeneration.Error(), len(e.Partial), e.Err)
}

func (e *GenerationError) Unwrap() []error { return []error{ErrGeneration, e.Err} }
