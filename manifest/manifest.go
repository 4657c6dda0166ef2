// Package manifest loads and validates run manifests.
//
// A manifest names the command to run, the file tree the command needs
// (as content-addressed entries or symlinks), the working directory
// relative to the tree root, and whether the tree is made read-only
// before the command starts. Loading is a pure function over the input
// bytes; no file is ever touched.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
)

// ErrInvalid is wrapped by every structural validation failure.
var ErrInvalid = errors.New("invalid manifest")

var sha1Hex = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// FileEntry describes a single path in the materialized tree. Exactly
// one of Digest or Link must be set: Digest names a content-addressed
// blob, Link the literal target of a symbolic link.
type FileEntry struct {
	Digest    string `json:"sha-1,omitempty"`
	Link      string `json:"link,omitempty"`
	Mode      *int   `json:"mode,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`

	// digestPresent records that the document carried a sha-1 key at
	// all, so an explicit empty digest fails validation like any other
	// malformed one. Only UnmarshalJSON sets it.
	digestPresent bool
}

// IsLink reports whether the entry is a symbolic link.
func (e FileEntry) IsLink() bool { return e.Link != "" }

// UnmarshalJSON decodes an entry strictly. Pointers distinguish a key
// that is present but empty from an absent one.
func (e *FileEntry) UnmarshalJSON(data []byte) error {
	type wire struct {
		Digest    *string `json:"sha-1"`
		Link      *string `json:"link"`
		Mode      *int    `json:"mode"`
		Timestamp *int64  `json:"timestamp"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*e = FileEntry{Mode: w.Mode, Timestamp: w.Timestamp, digestPresent: w.Digest != nil}
	if w.Digest != nil {
		e.Digest = *w.Digest
	}
	if w.Link != nil {
		e.Link = *w.Link
	}
	return nil
}

// Manifest is the immutable run description. It is loaded once per run
// and never mutated afterwards.
type Manifest struct {
	Command     []string             `json:"command"`
	Files       map[string]FileEntry `json:"files"`
	RelativeCwd string               `json:"relative_cwd"`
	ReadOnly    bool                 `json:"read_only"`
}

// Load parses and strictly validates a manifest document. Any unknown
// key, type mismatch, malformed digest, invalid path, or entry carrying
// both a digest and a link target fails with an error wrapping
// ErrInvalid.
func Load(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	// A trailing second JSON value is as malformed as a bad first one.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after document", ErrInvalid)
	}

	for path, entry := range m.Files {
		if err := validatePath(path); err != nil {
			return nil, err
		}
		if err := validateEntry(path, entry); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func validatePath(path string) error {
	if path == "" || !fs.ValidPath(path) || strings.ContainsRune(path, '\\') {
		return fmt.Errorf("%w: bad file path %q", ErrInvalid, path)
	}
	return nil
}

func validateEntry(path string, entry FileEntry) error {
	if entry.Digest != "" && entry.Link != "" {
		return fmt.Errorf("%w: %q has both sha-1 and link", ErrInvalid, path)
	}
	if entry.digestPresent && !sha1Hex.MatchString(entry.Digest) {
		return fmt.Errorf("%w: %q has malformed sha-1 %q", ErrInvalid, path, entry.Digest)
	}
	return nil
}

// Digests returns the deduplicated set of content ids referenced by the
// manifest, in sorted order.
func (m *Manifest) Digests() []string {
	seen := make(map[string]struct{}, len(m.Files))
	for _, entry := range m.Files {
		if entry.Digest != "" {
			seen[entry.Digest] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Paths returns the manifest's file paths in sorted order. Sorted
// iteration keeps materialization deterministic, so a self-colliding
// manifest fails the same way every run.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for path := range m.Files {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}
