// Package exporter writes the objects of one category to its folder.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/filter"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/catalog"
	"github.com/sql2fs/sql2fs/internal/services/dirsync"
)

// Service defines the interface for exporting a category.
type Service interface {
	Export(ctx context.Context, kind models.ObjectKind, cfg models.ExportConfig, cat catalog.Service) (*models.ExportSummary, error)
}

// FileWriter writes a complete file, replacing any existing content.
type FileWriter func(path string, data []byte) error

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644) //nolint:gosec // exported scripts are meant to be shared
}

// Impl implements the exporter Service interface.
type Impl struct {
	sync   dirsync.Service
	write  FileWriter
	out    io.Writer
	logger zerolog.Logger
}

// New creates a new exporter that prints progress to out.
func New(logger zerolog.Logger, out io.Writer) *Impl {
	return &Impl{
		sync:   dirsync.New(logger),
		write:  writeFile,
		out:    out,
		logger: logger,
	}
}

// NewWithServices creates a new exporter with custom dependencies (for testing).
func NewWithServices(logger zerolog.Logger, out io.Writer, sync dirsync.Service, write FileWriter) *Impl {
	return &Impl{
		sync:   sync,
		write:  write,
		out:    out,
		logger: logger,
	}
}

// Export lists the objects of kind, keeps those passing the filters, syncs
// the category folder and writes one file per object. Object failures are
// recorded in the summary; the returned error is set only when the category
// could not be processed or FailFast stopped it.
func (s *Impl) Export(ctx context.Context, kind models.ObjectKind, cfg models.ExportConfig, cat catalog.Service) (*models.ExportSummary, error) {
	folder := filepath.Join(cfg.Directory, kind.Folder())
	summary := &models.ExportSummary{Kind: kind, Folder: folder}
	log := s.logger.With().Str("category", kind.Folder()).Logger()

	objects, err := cat.ListObjects(ctx, kind)
	if err != nil {
		return summary, fmt.Errorf("failed to list %s objects: %w", kind, err)
	}

	refs := qualifying(objects, cfg.Filter)
	log.Debug().
		Int("listed", len(objects)).
		Int("qualifying", len(refs)).
		Msg("filtered objects")

	syncResult, err := s.sync.Sync(folder, refs, cfg.Prune)
	if err != nil {
		return summary, err
	}
	summary.Pruned = len(syncResult.Pruned)
	if syncResult.Error != nil {
		summary.PruneErr = syncResult.Error
		log.Error().Err(syncResult.Error).Msg("pruning did not complete")
		if cfg.FailFast {
			return summary, syncResult.Error
		}
	}

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		_, _ = fmt.Fprintf(s.out, "[%d of %d] %s\n", i+1, len(refs), ref)

		result := s.exportObject(ctx, kind, ref, folder, cfg, cat)
		summary.Add(result)

		switch result.Status {
		case models.StatusSkipped:
			log.Info().Str("object", ref.String()).Str("reason", result.Reason).Msg("skipped")
		case models.StatusFailed:
			log.Error().Err(result.Err).Str("object", ref.String()).Msg("failed to export object")
			if cfg.FailFast {
				return summary, result.Err
			}
		}
	}

	log.Debug().
		Int("exported", summary.Exported).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("category done")

	return summary, nil
}

// qualifying returns the refs of objects passing the filters, sorted by
// schema then name.
func qualifying(objects []models.SchemaObject, f models.FilterConfig) []models.SchemaObjectRef {
	refs := make([]models.SchemaObjectRef, 0, len(objects))
	for _, obj := range objects {
		if filter.Accepts(obj.Ref.Name, obj.Ref.Schema, f) {
			refs = append(refs, obj.Ref)
		}
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Schema != refs[j].Schema {
			return refs[i].Schema < refs[j].Schema
		}
		return refs[i].Name < refs[j].Name
	})
	return refs
}

func (s *Impl) exportObject(ctx context.Context, kind models.ObjectKind, ref models.SchemaObjectRef, folder string, cfg models.ExportConfig, cat catalog.Service) models.ObjectResult {
	result := models.ObjectResult{Ref: ref}
	fail := func(err error) models.ObjectResult {
		result.Status = models.StatusFailed
		result.Err = &models.ObjectError{Kind: kind, Ref: ref, Err: err}
		return result
	}

	obj, err := cat.GetObject(ctx, kind, ref)
	if err != nil {
		return fail(err)
	}

	if cfg.IgnoreEncryption && kind.Encryptable() && obj.IsEncrypted {
		result.Status = models.StatusSkipped
		result.Reason = "encrypted"
		return result
	}

	if hasSeparator(ref.Schema) || hasSeparator(ref.Name) {
		return fail(fmt.Errorf("%w: object name contains a path separator", models.ErrIO))
	}
	result.Path = filepath.Join(folder, ref.FileName())

	script, err := cat.Script(ctx, *obj)
	if err != nil {
		return fail(err)
	}
	parts := []string{script}

	for _, rel := range kind.Related() {
		related, err := cat.ScriptRelated(ctx, *obj, rel)
		if err != nil {
			return fail(fmt.Errorf("scripting %s objects: %w", rel, err))
		}
		parts = append(parts, related...)
	}

	data, err := Encode(Assemble(parts, cfg.Script.BatchTerminator), cfg.Script.Encoding)
	if err != nil {
		return fail(err)
	}

	if err := s.write(result.Path, data); err != nil {
		if !errors.Is(err, models.ErrIO) {
			err = fmt.Errorf("%w: writing %s: %w", models.ErrIO, result.Path, err)
		}
		return fail(err)
	}

	result.Status = models.StatusExported
	return result
}

func hasSeparator(name string) bool {
	return strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator)
}
