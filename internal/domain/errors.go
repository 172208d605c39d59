package domain

import "errors"

// Storage errors returned by destination adapters
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")
)

// Backup errors. Every failure surfaced by the engine wraps exactly one of these.
var (
	// ErrArchival indicates an I/O failure or invariant violation while writing
	// the cargo archive. The whole run is aborted and no manifest is committed.
	ErrArchival = errors.New("archival failure")

	// ErrParse indicates metadata extraction failed for a single file.
	ErrParse = errors.New("parse failure")

	// ErrIntegrity indicates a structural inconsistency found while reading an
	// archive: missing chunk, out of range boundary, hash mismatch.
	ErrIntegrity = errors.New("archive integrity failure")

	// ErrCrypto indicates key generation, wrapping or cipher construction failed
	ErrCrypto = errors.New("crypto failure")

	// ErrRetention indicates a deletion request that does not match an increment boundary
	ErrRetention = errors.New("retention failure")

	// ErrNoManifests indicates no manifest exists for the requested prefix
	ErrNoManifests = errors.New("no manifests found")

	// ErrInvalidArgument indicates a caller passed an unusable value
	ErrInvalidArgument = errors.New("invalid argument")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates an invalid or contradictory job configuration
	ErrConfigInvalid = errors.New("invalid config")
)
