// Package dirsync keeps category folders in step with the exported objects.
package dirsync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
)

// Service defines the interface for directory synchronization.
type Service interface {
	EnsureRoot(root string) (bool, error)
	Sync(folder string, keep []models.SchemaObjectRef, prune bool) (*models.SyncResult, error)
	Wipe(root string, confirmed bool) error
}

// Remover deletes a single file. Replaceable in tests.
type Remover func(path string) error

// Impl implements the dirsync Service interface.
type Impl struct {
	remove Remover
	logger zerolog.Logger
}

// New creates a new dirsync service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		remove: os.Remove,
		logger: logger,
	}
}

// NewWithRemover creates a new dirsync service with a custom remover (for testing).
func NewWithRemover(logger zerolog.Logger, remove Remover) *Impl {
	return &Impl{
		remove: remove,
		logger: logger,
	}
}

// EnsureRoot creates the export root if it does not exist.
func (s *Impl) EnsureRoot(root string) (bool, error) {
	info, err := os.Stat(root)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%w: export root %s is not a directory", models.ErrIO, root)
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("%w: checking export root: %w", models.ErrIO, err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return false, fmt.Errorf("%w: creating export root: %w", models.ErrIO, err)
	}
	return true, nil
}

// Sync creates folder when at least one object qualifies and, if prune is set,
// deletes files that do not belong to any object in keep. A failed deletion is
// recorded in the result and does not stop the remaining ones.
func (s *Impl) Sync(folder string, keep []models.SchemaObjectRef, prune bool) (*models.SyncResult, error) {
	result := &models.SyncResult{Folder: folder}

	exists, err := dirExists(folder)
	if err != nil {
		return nil, err
	}

	if !exists && len(keep) > 0 {
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating folder %s: %w", models.ErrIO, folder, err)
		}
		exists = true
		result.Created = true
		s.logger.Debug().Str("folder", folder).Msg("created folder")
	}

	if !prune || !exists {
		return result, nil
	}

	expected := make(map[string]bool, len(keep))
	for _, ref := range keep {
		expected[ref.FileName()] = true
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: listing folder %s: %w", models.ErrIO, folder, err)
	}

	var pruneErr *multierror.Error
	for _, entry := range entries {
		if !entry.Type().IsRegular() || expected[entry.Name()] {
			continue
		}

		s.logger.Info().
			Str("folder", folder).
			Str("file", entry.Name()).
			Msg("found file with no object, pruning")

		if err := s.remove(filepath.Join(folder, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to prune file")
			pruneErr = multierror.Append(pruneErr, fmt.Errorf("%w: pruning %s: %w", models.ErrIO, entry.Name(), err))
			continue
		}
		result.Pruned = append(result.Pruned, entry.Name())
	}

	result.Error = pruneErr.ErrorOrNil()
	return result, nil
}

// Wipe removes everything under root and recreates it empty. The caller must
// have obtained confirmation beforehand.
func (s *Impl) Wipe(root string, confirmed bool) error {
	if !confirmed {
		return fmt.Errorf("%w: refusing to clean %s", models.ErrNotConfirmed, root)
	}

	s.logger.Warn().Str("directory", root).Msg("cleaning export directory")

	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("%w: cleaning %s: %w", models.ErrIO, root, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: recreating %s: %w", models.ErrIO, root, err)
	}
	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: checking %s: %w", models.ErrIO, path, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", models.ErrIO, path)
	}
	return true, nil
}
