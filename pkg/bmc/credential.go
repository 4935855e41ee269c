// SPDX-License-Identifier: BSD-3-Clause

package bmc

import (
	"fmt"
	"os"
	"path/filepath"
)

// credentialFile is an ephemeral on-disk file holding a BMC password
// payload, passed to the out-of-band CLI tool as its credential argument.
// The file is removed once the command that uses it (including any retries)
// has finished, so the password never outlives that one command. It stays
// on disk while the tool runs; it is not unlinked at tool start.
type credentialFile struct {
	path string
	f    *os.File
}

// newCredentialFile writes payload to a randomized file under dir and
// returns a handle to it. dir is the protocol's output directory (e.g. the
// redfish or ipmi work directory), created on first use. The filename
// follows the naming convention {protocol-dir}/.{program}-{hostname}-{random
// suffix}: embedding the hostname lets PurgeHost scope its stale-file sweep
// to a single deprovisioned host instead of sweeping every host sharing the
// protocol directory.
func newCredentialFile(dir, program, hostname string, payload []byte) (*credentialFile, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialFileCreate, err)
	}
	pattern := fmt.Sprintf(".%s-%s-*", program, hostname)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialFileCreate, err)
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %w", ErrCredentialFileWrite, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %w", ErrCredentialFileWrite, err)
	}

	return &credentialFile{path: f.Name(), f: f}, nil
}

// Path returns the filesystem path to pass as the tool's credential argument.
func (c *credentialFile) Path() string {
	return c.path
}

// unlink removes the directory entry for this credential file. Call it once
// no further tool invocation will read the path; the already-open *os.File
// descriptor held here keeps the inode alive for this process regardless.
func (c *credentialFile) unlink() {
	_ = os.Remove(c.path)
}

// close releases this process's descriptor. Call after the tool process exits.
func (c *credentialFile) close() {
	_ = c.f.Close()
}

// outputDir returns the protocol-specific output directory credential files
// and tool output are written under.
func outputDir(base string, protocol Protocol) string {
	return filepath.Join(base, string(protocol))
}

// programFor returns the out-of-band CLI binary name a credential file's
// {program} naming segment embeds, matching the redfishClient/ipmiClient
// binary fields in protocol.go.
func programFor(protocol Protocol) string {
	switch protocol {
	case ProtocolRedfish:
		return "redfishtool"
	case ProtocolIPMI:
		return "ipmitool"
	default:
		return "bmc"
	}
}
