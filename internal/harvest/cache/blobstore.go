package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// bodyExt is the base extension every body file carries. Compression
// appends its own suffix after it.
const bodyExt = ".html"

// tempExt marks in-flight writes; the orphan sweep treats old leftovers
// as debris.
const tempExt = ".tmp"

// BlobStore owns the flat directory of body files. Files are named
// <fileUUID>.html plus an optional compression suffix and are written
// atomically through a temp file and rename, so readers never observe a
// partial body.
type BlobStore struct {
	root   string
	logger *zap.Logger
}

// BlobInfo describes one body file in the cache root.
type BlobInfo struct {
	Name    string // file name within the root
	Stem    string // the file UUID, the name up to the first dot
	Size    int64
	ModTime time.Time
}

func NewBlobStore(root string, logger *zap.Logger) (*BlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}
	return &BlobStore{root: root, logger: logger}, nil
}

// Root returns the cache root directory.
func (b *BlobStore) Root() string { return b.root }

// FileName returns the blob file name for a content row.
func FileName(fileUUID, compression string) string {
	return fileUUID + bodyExt + extFor(compression)
}

func (b *BlobStore) path(fileUUID, compression string) string {
	return filepath.Join(b.root, FileName(fileUUID, compression))
}

// Write stores data under the blob's final name via temp file + rename.
func (b *BlobStore) Write(fileUUID, compression string, data []byte) error {
	path := b.path(fileUUID, compression)
	tempPath := path + tempExt

	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		b.logger.Error("Failed to write temporary blob file",
			zap.String("temp_path", tempPath),
			zap.Error(err))
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		b.logger.Error("Failed to rename temporary blob file",
			zap.String("temp_path", tempPath),
			zap.String("file_path", path),
			zap.Error(err))
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug("Blob written",
		zap.String("file", FileName(fileUUID, compression)),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Read returns the decompressed body of a blob. A missing file surfaces
// the underlying os error so callers can invalidate the entry.
func (b *BlobStore) Read(fileUUID, compression string) ([]byte, error) {
	path := b.path(fileUUID, compression)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found %s: %w", FileName(fileUUID, compression), err)
		}
		b.logger.Error("Failed to read blob file",
			zap.String("file_path", path),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	body, err := decompress(data, path)
	if err != nil {
		b.logger.Error("Failed to decompress blob",
			zap.String("file_path", path),
			zap.Error(err))
		return nil, err
	}
	return body, nil
}

// Exists reports whether the blob file is present.
func (b *BlobStore) Exists(fileUUID, compression string) bool {
	_, err := os.Stat(b.path(fileUUID, compression))
	return err == nil
}

// TouchAccess updates the blob's access time, keeping the modification
// time so the age sweep still sees when the body was written.
func (b *BlobStore) TouchAccess(fileUUID, compression string, now time.Time) error {
	path := b.path(fileUUID, compression)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chtimes(path, now, info.ModTime())
}

// Remove deletes a blob addressed by its content row and returns the bytes
// freed. A missing file is not an error.
func (b *BlobStore) Remove(fileUUID, compression string) (int64, error) {
	return b.RemoveName(FileName(fileUUID, compression))
}

// RemoveName deletes a blob by file name and returns the bytes freed.
func (b *BlobStore) RemoveName(name string) (int64, error) {
	path := filepath.Join(b.root, name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		b.logger.Error("Failed to delete blob file",
			zap.String("file_path", path),
			zap.Error(err))
		return 0, fmt.Errorf("failed to delete blob: %w", err)
	}
	return info.Size(), nil
}

// List returns every body file in the cache root. Temp files and foreign
// files are skipped.
func (b *BlobStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache root: %w", err)
	}

	blobs := make([]BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.Contains(name, bodyExt) || strings.HasSuffix(name, tempExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		stem := name
		if i := strings.IndexByte(name, '.'); i > 0 {
			stem = name[:i]
		}
		blobs = append(blobs, BlobInfo{
			Name:    name,
			Stem:    stem,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return blobs, nil
}

// Usage returns the number of body files and their total on-disk bytes.
func (b *BlobStore) Usage() (files int, bytes int64, err error) {
	blobs, err := b.List()
	if err != nil {
		return 0, 0, err
	}
	for _, blob := range blobs {
		bytes += blob.Size
	}
	return len(blobs), bytes, nil
}

// SweepTempDebris removes temp files last modified before cutoff. These
// are leftovers of writes interrupted between WriteFile and Rename.
func (b *BlobStore) SweepTempDebris(cutoff time.Time) (removed int, freed int64, err error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cache root: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.root, entry.Name())); err == nil {
			removed++
			freed += info.Size()
			b.logger.Debug("Removed stale temp file", zap.String("file", entry.Name()))
		}
	}
	return removed, freed, nil
}
