package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"igrelay/pkg/models"
)

// Manager owns the staging directory where media waits between download
// and delivery
type Manager struct {
	dir    string
	active map[string]struct{}
	mu     sync.Mutex
}

// NewManager creates a staging manager rooted at dir
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	return &Manager{
		dir:    dir,
		active: make(map[string]struct{}),
	}, nil
}

// Dir returns the staging directory path
func (m *Manager) Dir() string {
	return m.dir
}

// Sweep removes everything left in the staging directory by a previous run
// and returns the number of entries removed. Active batches are kept.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(m.dir, entry.Name())
		if _, ok := m.active[path]; ok {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

// NewBatch creates a private subdirectory for the files of one delivery so
// concurrent deliveries of the same post never share paths
func (m *Manager) NewBatch(prefix string) (*Batch, error) {
	dir, err := os.MkdirTemp(m.dir, sanitize(prefix)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create batch directory: %w", err)
	}

	m.mu.Lock()
	m.active[dir] = struct{}{}
	m.mu.Unlock()

	return &Batch{dir: dir, manager: m}, nil
}

// ActiveBatches returns the number of batches not yet cleaned up
func (m *Manager) ActiveBatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) release(dir string) {
	m.mu.Lock()
	delete(m.active, dir)
	m.mu.Unlock()
}

// Batch is a set of staged files removed together after delivery
type Batch struct {
	dir     string
	manager *Manager
	once    sync.Once
}

// Dir returns the batch directory
func (b *Batch) Dir() string {
	return b.dir
}

// Stage writes r to name inside the batch atomically and returns the path
func (b *Batch) Stage(r io.Reader, name string) (string, error) {
	filename := filepath.Join(b.dir, filepath.Base(name))

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to write media data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return filename, nil
}

// Cleanup removes the batch directory and everything in it. It is safe to
// call more than once.
func (b *Batch) Cleanup() error {
	var err error
	b.once.Do(func() {
		err = os.RemoveAll(b.dir)
		b.manager.release(b.dir)
	})
	return err
}

// FileName returns the staged name of item index of a post:
// {owner}_{shortcode}_{index}.{jpg|mp4}
func FileName(owner, shortcode string, index int, kind models.MediaKind) string {
	if owner == "" {
		owner = "unknown"
	}
	return fmt.Sprintf("%s_%s_%d%s", sanitize(owner), sanitize(shortcode), index, kind.Extension())
}

// sanitize keeps characters that are valid in Instagram usernames and
// shortcodes
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
