// Package tokenfile handles reading and writing the Globus credential bundle.
// The bundle maps resource-server identifiers to token records and lives at a
// fixed per-user path (~/.parsl/.globus.json) shared with other Globus-aware
// tools. This is a leaf package imported by both globus/ and the CLI.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePerms restricts the bundle file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the containing directory.
const DirPerms = 0o700

// bundleDir and bundleName locate the bundle under the user's home directory.
const (
	bundleDir  = ".parsl"
	bundleName = ".globus.json"
)

// Record is one resource server's token set. expires_at_seconds is a Unix
// timestamp, matching what the Globus token response flattens to on disk.
type Record struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresAtSeconds int64  `json:"expires_at_seconds"`
	Scope            string `json:"scope,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ResourceServer   string `json:"resource_server,omitempty"`
}

// Bundle is the full on-disk document: token records keyed by resource server
// (e.g. "transfer.api.globus.org", "auth.globus.org").
type Bundle map[string]Record

// DefaultPath returns ~/.parsl/.globus.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tokenfile: resolving home directory: %w", err)
	}

	return filepath.Join(home, bundleDir, bundleName), nil
}

// Load reads a saved credential bundle from disk. Returns (nil, nil) if the
// file does not exist — the caller treats that as "no cached credentials" and
// falls back to interactive login. A file that exists but cannot be decoded
// returns an error; callers fall back the same way but can log the cause.
func Load(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if len(b) == 0 {
		return nil, fmt.Errorf("tokenfile: %s contains no token records (re-login required)", path)
	}

	return b, nil
}

// Save writes the credential bundle to disk atomically (write-to-temp +
// rename) with 0600 permissions, creating the containing directory if absent.
// The file is always replaced wholesale — refreshed bundles are never merged
// with stale on-disk data. Never logs token values.
func Save(path string, b Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".globus-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial bundle at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the bundle file. Returns nil if it does not exist
// (already logged out).
func Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}
