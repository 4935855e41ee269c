// SPDX-License-Identifier: BSD-3-Clause

package id

import "errors"

var (
	// ErrDirectoryCreation indicates the ID storage directory could not be created.
	ErrDirectoryCreation = errors.New("failed to create directory for persistent ID storage")
	// ErrFileCreation indicates the persistent ID file could not be created.
	ErrFileCreation = errors.New("failed to create persistent ID file")
	// ErrFileRead indicates the persistent ID file could not be read.
	ErrFileRead = errors.New("failed to read persistent ID file")
	// ErrFileUpdate indicates the persistent ID file could not be updated.
	ErrFileUpdate = errors.New("failed to update persistent ID file")
	// ErrInvalidUUID indicates the persistent ID file does not hold a valid UUID.
	ErrInvalidUUID = errors.New("invalid UUID format in persistent ID file")
	// ErrFileStat indicates the persistent ID file could not be stat'd.
	ErrFileStat = errors.New("failed to get file statistics for persistent ID file")
)
