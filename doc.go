// Package carton implements a self-hosted, versioned object storage engine.
//
// Objects are identified by (bucket, key, version) and stored on a local
// filesystem under a sanitized, deterministic path. Writes are atomic:
// content streams into a temp file on the destination volume, is checksum
// verified, and is renamed into place, so readers only ever see a fully
// committed object. Large objects are uploaded through a chunked protocol
// with arbitrary chunk arrival order and gap-free assembly at completion.
//
// # Key Components
//
//   - Service: orchestrates stores, streamed retrieval, deletes, multipart
//     uploads, and pre-signed URLs
//   - BlobStore: physical storage interface (filesystem package)
//   - Uploader: multipart upload state machine (multipart package)
//   - MetadataRegistry: post-commit bookkeeping collaborator (metadata
//     package; registration is retried and never rolls back a commit)
//   - Signer: stateless, HMAC-authenticated pre-signed URL issuance and
//     validation
//
// Errors are sentinel values (ErrNotFound, ErrChecksumMismatch,
// ErrIncompleteUpload, ...) intended for errors.Is matching.
//
// See the http package for the REST edge and cmd/cartond for the daemon.
package carton
