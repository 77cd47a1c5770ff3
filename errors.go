package carton

import "errors"

var (
	// ErrInvalidArgument is returned when a bucket, key, range, index, or
	// upload id is missing or malformed
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when an object, version, or upload is absent
	// or already reclaimed
	ErrNotFound = errors.New("not found")
	// ErrChecksumMismatch is returned when stored or uploaded bytes do not
	// match their expected digest
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrIncompleteUpload is returned when a multipart upload is completed
	// with gaps or duplicates in its chunk sequence
	ErrIncompleteUpload = errors.New("incomplete upload")
	// ErrInvalidState is returned when an operation is attempted against an
	// upload that has left the in-progress state
	ErrInvalidState = errors.New("invalid upload state")
	// ErrMetadataUnavailable is returned when the metadata registry cannot
	// be reached; the storage commit itself is durable and retained
	ErrMetadataUnavailable = errors.New("metadata service unavailable")
	// ErrUnauthorized is returned when a pre-signed token fails validation
	ErrUnauthorized = errors.New("unauthorized")
)
