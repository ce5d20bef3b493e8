// Package store is the on-disk version store. Each version owns a directory
// under the store root:
//
//	<root>/<version>/live_schema.json
//	<root>/<version>/live_state.json
//	<root>/<version>/schema_archive/<timestamp>.json
//	<root>/<version>/state_archive/<timestamp>.json
//	<root>/<version>/lock
//
// Live files hold node-link documents; archive snapshots hold the compressed
// form. Every write goes through a temp file plus rename, so readers always
// see a whole file. Writers additionally serialize on an advisory lock on
// the version's lock file.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/graphtwin/internal/graph"
)

var (
	// ErrNotFound reports a version or archive snapshot that does not exist.
	ErrNotFound = errors.New("not found in version store")

	// ErrBadVersion reports a version string unusable as a directory name.
	ErrBadVersion = errors.New("invalid version name")

	// ErrBusy reports a version whose lock is held by another process.
	ErrBusy = errors.New("version is locked by another process")
)

// Kind selects the schema or state side of a version.
type Kind string

const (
	Schema Kind = "schema"
	State  Kind = "state"
)

func (k Kind) liveName() string {
	return "live_" + string(k) + ".json"
}

func (k Kind) archiveDir() string {
	return string(k) + "_archive"
}

// Store reads and writes version directories under a single root.
type Store struct {
	root string
}

// New returns a Store rooted at root. The root is created on first write.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// checkVersion rejects names that would escape the store root or collide
// with the store's own files.
func checkVersion(version string) error {
	if version == "" || version == "." ||
		strings.ContainsAny(version, `/\`) || strings.Contains(version, "..") {
		return fmt.Errorf("%w: %q", ErrBadVersion, version)
	}
	return nil
}

// VersionDir returns the directory for version without creating it.
func (s *Store) VersionDir(version string) string {
	return filepath.Join(s.root, version)
}

// Exists reports whether the version directory is present.
func (s *Store) Exists(version string) bool {
	if checkVersion(version) != nil {
		return false
	}
	info, err := os.Stat(s.VersionDir(version))
	return err == nil && info.IsDir()
}

// EnsureVersion creates the version directory and its archive
// subdirectories.
func (s *Store) EnsureVersion(version string) error {
	if err := checkVersion(version); err != nil {
		return err
	}
	for _, dir := range []string{
		s.VersionDir(version),
		filepath.Join(s.VersionDir(version), Schema.archiveDir()),
		filepath.Join(s.VersionDir(version), State.archiveDir()),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create version directory: %w", err)
		}
	}
	return nil
}

// Lock acquires the exclusive advisory lock for version, blocking until it
// is granted or ctx is done. The caller must Unlock the returned lock on
// every exit path.
func (s *Store) Lock(ctx context.Context, version string) (*flock.Flock, error) {
	if err := s.EnsureVersion(version); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(s.VersionDir(version), "lock"))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", version, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrBusy, version)
	}
	return lock, nil
}

// LoadLive reads the live graph for version. A missing live file yields an
// empty graph; a missing version directory yields ErrNotFound. A live file
// that exists but cannot be decoded is an error, never silently reset.
func (s *Store) LoadLive(version string, kind Kind) (*graph.Graph, error) {
	data, err := s.ReadLiveRaw(version, kind)
	if err != nil {
		return nil, err
	}
	g, err := graph.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt %s for version %s: %w", kind.liveName(), version, err)
	}
	return g, nil
}

// ReadLiveRaw returns the live document bytes for version. A missing live
// file yields an empty node-link document.
func (s *Store) ReadLiveRaw(version string, kind Kind) ([]byte, error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	if !s.Exists(version) {
		return nil, fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(s.VersionDir(version), kind.liveName()))
	if errors.Is(err, fs.ErrNotExist) {
		return graph.Marshal(graph.NewDirected())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", kind.liveName(), err)
	}
	return data, nil
}

// WriteLive persists g as the live graph for version.
func (s *Store) WriteLive(version string, kind Kind, g *graph.Graph) error {
	if err := s.EnsureVersion(version); err != nil {
		return err
	}
	data, err := graph.Marshal(g)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.VersionDir(version), kind.liveName()), data)
}

func (s *Store) archivePath(version string, kind Kind, ts int64) string {
	return filepath.Join(s.VersionDir(version), kind.archiveDir(), strconv.FormatInt(ts, 10)+".json")
}

// WriteArchive persists g as the compressed snapshot for timestamp ts,
// overwriting any previous snapshot at the same timestamp.
func (s *Store) WriteArchive(version string, kind Kind, ts int64, g *graph.Graph) error {
	if err := s.EnsureVersion(version); err != nil {
		return err
	}
	data, err := graph.MarshalCompressed(g)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.archivePath(version, kind, ts), data)
}

// ReadArchive loads and decompresses the snapshot at timestamp ts.
func (s *Store) ReadArchive(version string, kind Kind, ts int64) (*graph.Graph, error) {
	data, err := s.ReadArchiveRaw(version, kind, ts)
	if err != nil {
		return nil, err
	}
	g, err := graph.UnmarshalCompressed(data)
	if err != nil {
		return nil, fmt.Errorf("corrupt archive %d for version %s: %w", ts, version, err)
	}
	return g, nil
}

// ReadArchiveRaw returns the compressed snapshot bytes at timestamp ts.
func (s *Store) ReadArchiveRaw(version string, kind Kind, ts int64) ([]byte, error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.archivePath(version, kind, ts))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("archive %d for version %s: %w", ts, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %d: %w", ts, err)
	}
	return data, nil
}

// HasArchive reports whether a snapshot exists at timestamp ts.
func (s *Store) HasArchive(version string, kind Kind, ts int64) bool {
	if checkVersion(version) != nil {
		return false
	}
	_, err := os.Stat(s.archivePath(version, kind, ts))
	return err == nil
}

// ArchiveTimestamps lists the snapshot timestamps for version in ascending
// order. Temp files and foreign names in the archive directory are ignored.
func (s *Store) ArchiveTimestamps(version string, kind Kind) ([]int64, error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	if !s.Exists(version) {
		return nil, fmt.Errorf("version %s: %w", version, ErrNotFound)
	}
	entries, err := os.ReadDir(filepath.Join(s.VersionDir(version), kind.archiveDir()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	var timestamps []int64
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps, nil
}

// ListVersions lists the version directories under the root in sorted order.
func (s *Store) ListVersions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// DeleteVersion removes a version directory and everything in it. Fails with
// ErrBusy if another process holds the version lock.
func (s *Store) DeleteVersion(version string) error {
	if err := checkVersion(version); err != nil {
		return err
	}
	if !s.Exists(version) {
		return fmt.Errorf("version %s: %w", version, ErrNotFound)
	}

	lock := flock.New(filepath.Join(s.VersionDir(version), "lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to check lock for %s: %w", version, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrBusy, version)
	}
	defer func() { _ = lock.Unlock() }()

	if err := os.RemoveAll(s.VersionDir(version)); err != nil {
		return fmt.Errorf("failed to delete version %s: %w", version, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp sibling and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	temp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
