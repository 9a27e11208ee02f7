package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrChunkUploadFailed matches every ChunkUploadError.
	ErrChunkUploadFailed = errors.New("chunk upload failed")

	// ErrRetrievalFailed matches every ChunkDownloadError.
	ErrRetrievalFailed = errors.New("chunk retrieval failed")

	// ErrMalformedAddress is returned when an address does not match the address format.
	ErrMalformedAddress = errors.New("malformed chunk address")

	// ErrMissingAttachment is returned when a message carries no attachment.
	ErrMissingAttachment = errors.New("message has no attachment")
)

// ChunkUploadError is returned when a chunk could not be posted within its retry budget.
type ChunkUploadError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("upload chunk %s after %d attempt(s): %v", e.Name, e.Attempts, e.Err)
}

func (e *ChunkUploadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrChunkUploadFailed) hold.
func (e *ChunkUploadError) Is(target error) bool { return target == ErrChunkUploadFailed }

// ChunkDownloadError is returned when the chunk at Address could not be fetched.
type ChunkDownloadError struct {
	Address string
	Err     error
}

func (e *ChunkDownloadError) Error() string {
	return fmt.Sprintf("download chunk %s: %v", e.Address, e.Err)
}

func (e *ChunkDownloadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRetrievalFailed) hold.
func (e *ChunkDownloadError) Is(target error) bool { return target == ErrRetrievalFailed }
