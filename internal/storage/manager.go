package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harlam357/hfm-net-sub005/internal/models"
)

// ErrFileNotFound is returned for unknown file IDs.
var ErrFileNotFound = errors.New("file not found")

const metaSuffix = ".json"

// Store defines the interface for client log storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	SetStatus(id, status string) error
}

// LocalStore keeps uploaded logs in a directory, one data file per ID plus a
// JSON sidecar with its metadata so uploads survive a restart.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
	logger    *slog.Logger
}

// NewLocalStore creates the upload directory if needed and loads the
// metadata of files already in it.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
		logger:    slog.With("component", "storage"),
	}
	s.scanExisting()
	return s, nil
}

func (s *LocalStore) scanExisting() {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		s.logger.Warn("failed to scan upload directory", "error", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.uploadDir, name))
		if err != nil {
			continue
		}
		var info models.FileInfo
		if err := json.Unmarshal(data, &info); err != nil || info.ID == "" {
			s.logger.Warn("skipping unreadable metadata", "file", name)
			continue
		}
		if _, err := os.Stat(s.dataPath(info.ID)); err != nil {
			continue
		}
		s.files[info.ID] = &info
	}
	s.logger.Info("scanned upload directory", "files", len(s.files))
}

func (s *LocalStore) dataPath(id string) string {
	return filepath.Join(s.uploadDir, id)
}

func (s *LocalStore) writeMeta(info *models.FileInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(s.dataPath(info.ID)+metaSuffix, data, 0644)
}

// Save copies r into a new file. Gzip content is detected from its magic
// bytes and flagged on the returned info.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := s.dataPath(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(r)
	magic, _ := br.Peek(2)
	compressed := len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b

	size, err := io.Copy(f, br)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		Compressed: compressed,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}
	if err := s.writeMeta(info); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	s.logger.Info("stored file", "id", id, "name", name, "size", size, "compressed", compressed)
	return info, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return info, nil
}

// List returns the most recent files, newest first.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file and its metadata.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	path := s.dataPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	os.Remove(path + metaSuffix)
	delete(s.files, id)
	return nil
}

// GetFilePath returns the on-disk path of a stored file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return s.dataPath(id), nil
}

// SetStatus records the parse status of a file.
func (s *LocalStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	info.Status = status
	return s.writeMeta(info)
}
