// SPDX-License-Identifier: BSD-3-Clause

package file

import "errors"

var (
	// ErrTemporaryFileCreation indicates a failure to create the temporary file.
	ErrTemporaryFileCreation = errors.New("failed to create temporary file")
	// ErrTemporaryFileWrite indicates a failure to write to the temporary file.
	ErrTemporaryFileWrite = errors.New("failed to write to temporary file")
	// ErrTemporaryFileClose indicates a failure to close the temporary file.
	ErrTemporaryFileClose = errors.New("failed to close temporary file")
	// ErrTemporaryFileChmod indicates a failure to set the temporary file's permissions.
	ErrTemporaryFileChmod = errors.New("failed to set permissions on temporary file")
	// ErrAtomicRename indicates the rename into the final location failed.
	ErrAtomicRename = errors.New("failed to atomically rename temporary file")
	// ErrOriginalFileOpen indicates the existing file could not be opened during an update.
	ErrOriginalFileOpen = errors.New("failed to open original file")
	// ErrOriginalFileCopy indicates the existing content could not be copied during an update.
	ErrOriginalFileCopy = errors.New("failed to copy original file content")
	// ErrFileAlreadyExists indicates atomic creation lost the race to another writer.
	ErrFileAlreadyExists = errors.New("file already exists")
)
