package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raphalvezz/loocac/internal/logger"
)

const (
	releasesDir = "releases"
	stagingDir  = "staging"
	currentFile = "CURRENT"
)

// Mirror copies committed releases somewhere else.
type Mirror interface {
	Push(ctx context.Context, releaseID, dir string, files []string) error
}

// Source can hand back a previously mirrored release.
type Source interface {
	Latest(ctx context.Context) (string, error)
	Pull(ctx context.Context, releaseID, dir string, files []string) error
}

// Store manages releases under one root directory.
type Store struct {
	root   string
	keep   int
	mirror Mirror
}

func NewStore(root string, keep int) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifacts dir is empty")
	}
	for _, d := range []string{releasesDir, stagingDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create artifacts dir: %w", err)
		}
	}
	return &Store{root: root, keep: keep}, nil
}

func (s *Store) SetMirror(m Mirror) { s.mirror = m }

func (s *Store) Root() string { return s.root }

// NewReleaseID sorts lexically in creation order.
func NewReleaseID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// ReleaseDir is where a committed release lives.
func (s *Store) ReleaseDir(id string) string {
	return filepath.Join(s.root, releasesDir, id)
}

// Current returns the id of the active release.
func (s *Store) Current() (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoRelease
	}
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", ErrNoRelease
	}
	return id, nil
}

// Releases lists committed release ids, oldest first.
func (s *Store) Releases() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, releasesDir))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Stage opens a fresh staging directory for a new release.
func (s *Store) Stage(id string) (*Staging, error) {
	if id == "" {
		id = NewReleaseID(time.Now())
	}
	dir := filepath.Join(s.root, stagingDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{store: s, id: id, dir: dir}, nil
}

// Staging is a release under construction. Nothing in it is visible to
// readers until Commit.
type Staging struct {
	store *Store
	id    string
	dir   string
	done  bool
}

func (st *Staging) ID() string  { return st.id }
func (st *Staging) Dir() string { return st.dir }

func (st *Staging) Path(name string) string {
	return filepath.Join(st.dir, name)
}

func (st *Staging) WriteJSON(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return os.WriteFile(st.Path(name), raw, 0o644)
}

// Abort discards the staging directory. Safe to call after Commit.
func (st *Staging) Abort() {
	if st.done {
		return
	}
	st.done = true
	if err := os.RemoveAll(st.dir); err != nil {
		logger.Warnf("artifact: remove staging %s failed: %v", st.id, err)
	}
}

// Commit checksums the staged files, writes the manifest, moves the release
// into place and then atomically repoints CURRENT.
func (st *Staging) Commit(ctx context.Context, m Manifest) error {
	if st.done {
		return fmt.Errorf("staging %s already closed", st.id)
	}
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return err
	}
	m.ReleaseID = st.id
	if m.FormatVersion == "" {
		m.FormatVersion = FormatVersion
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Files = map[string]string{}
	var files []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == FileManifest {
			continue
		}
		sum, err := fileSHA256(st.Path(e.Name()))
		if err != nil {
			return err
		}
		m.Files[e.Name()] = sum
		files = append(files, e.Name())
	}
	if err := st.WriteJSON(FileManifest, m); err != nil {
		return err
	}
	files = append(files, FileManifest)

	final := st.store.ReleaseDir(st.id)
	if err := os.Rename(st.dir, final); err != nil {
		return fmt.Errorf("promote release %s: %w", st.id, err)
	}
	st.done = true
	if err := st.store.setCurrent(st.id); err != nil {
		return err
	}
	logger.Infof("artifact: release %s is now current (%d files)", st.id, len(files))

	if st.store.mirror != nil {
		if err := st.store.mirror.Push(ctx, st.id, final, files); err != nil {
			logger.Warnf("artifact: mirror push for %s failed: %v", st.id, err)
		}
	}
	st.store.prune()
	return nil
}

// Restore pulls the source's latest release into place and makes it current.
// The caller still loads it, which verifies checksums.
func (s *Store) Restore(ctx context.Context, src Source) (string, error) {
	id, err := src.Latest(ctx)
	if err != nil {
		return "", err
	}
	st, err := s.Stage(id)
	if err != nil {
		return "", err
	}
	defer st.Abort()
	if err := src.Pull(ctx, id, st.Dir(), []string{FileManifest}); err != nil {
		return "", err
	}
	var m Manifest
	if err := readJSON(st.Path(FileManifest), &m); err != nil {
		return "", err
	}
	if err := m.CheckVersion(); err != nil {
		return "", err
	}
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := src.Pull(ctx, id, st.Dir(), names); err != nil {
		return "", err
	}
	if err := os.Rename(st.Dir(), s.ReleaseDir(id)); err != nil {
		return "", fmt.Errorf("promote restored release %s: %w", id, err)
	}
	st.done = true
	if err := s.setCurrent(id); err != nil {
		return "", err
	}
	logger.Infof("artifact: restored release %s from mirror", id)
	return id, nil
}

func (s *Store) setCurrent(id string) error {
	tmp, err := os.CreateTemp(s.root, currentFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, currentFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("swap current release: %w", err)
	}
	return nil
}

func (s *Store) prune() {
	if s.keep <= 0 {
		return
	}
	ids, err := s.Releases()
	if err != nil {
		return
	}
	current, _ := s.Current()
	excess := len(ids) - s.keep
	for _, id := range ids {
		if excess <= 0 {
			break
		}
		if id == current {
			continue
		}
		if err := os.RemoveAll(s.ReleaseDir(id)); err != nil {
			logger.Warnf("artifact: prune %s failed: %v", id, err)
			continue
		}
		excess--
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadManifest reads and version-checks a committed release manifest.
func (s *Store) ReadManifest(id string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(filepath.Join(s.ReleaseDir(id), FileManifest))
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s/%s", ErrMissingArtifact, id, FileManifest)
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	if err := m.CheckVersion(); err != nil {
		return m, err
	}
	return m, nil
}
