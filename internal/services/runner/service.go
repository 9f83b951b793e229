// Package runner orchestrates the export workflow.
package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/catalog"
	"github.com/sql2fs/sql2fs/internal/services/dirsync"
	"github.com/sql2fs/sql2fs/internal/services/exporter"
)

// Service defines the interface for the export runner.
type Service interface {
	Run(ctx context.Context, cfg models.ExportConfig) (models.Summaries, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	open        catalog.Opener
	exporterSvc exporter.Service
	dirsyncSvc  dirsync.Service
	logger      zerolog.Logger
}

// New creates a new runner service. Progress lines are written to out.
func New(logger zerolog.Logger, out io.Writer) *Impl {
	return &Impl{
		open:        catalog.Open,
		exporterSvc: exporter.New(logger, out),
		dirsyncSvc:  dirsync.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	open catalog.Opener,
	exporterSvc exporter.Service,
	dirsyncSvc dirsync.Service,
) *Impl {
	return &Impl{
		open:        open,
		exporterSvc: exporterSvc,
		dirsyncSvc:  dirsyncSvc,
		logger:      logger,
	}
}

// Run executes the complete export workflow. The returned summaries cover
// every category that was processed, also when an error is returned.
func (s *Impl) Run(ctx context.Context, cfg models.ExportConfig) (models.Summaries, error) {
	startTime := time.Now()

	s.logger.Info().
		Str("server", cfg.Connection.Server).
		Str("database", cfg.Connection.Database).
		Str("directory", cfg.Directory).
		Msg("starting export run")

	// Step 1: Export root
	created, err := s.dirsyncSvc.EnsureRoot(cfg.Directory)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info().Str("directory", cfg.Directory).Msg("created export directory")
	}

	// Step 2: Clean (if requested and confirmed)
	if cfg.Clean {
		if cfg.CleanConfirmed {
			if err := s.dirsyncSvc.Wipe(cfg.Directory, true); err != nil {
				return nil, fmt.Errorf("clean failed: %w", err)
			}
			s.logger.Info().Str("directory", cfg.Directory).Msg("export directory cleaned")
		} else {
			s.logger.Warn().Str("directory", cfg.Directory).Msg("clean not confirmed, skipping")
		}
	}

	// Step 3: Connect
	cat, err := s.open(ctx, cfg.Connection, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close connection")
		}
	}()

	// Step 4: Categories in fixed order
	var summaries models.Summaries
	for _, kind := range models.AllKinds() {
		if !cfg.Selected(kind) {
			continue
		}

		s.logger.Info().Str("category", kind.Folder()).Msg("documenting " + kind.Folder())

		summary, err := s.exporterSvc.Export(ctx, kind, cfg, cat)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if err != nil {
			return summaries, fmt.Errorf("exporting %s failed: %w", kind.Folder(), err)
		}
	}

	if summaries.HasFailures() {
		failed := summaries.Failed()
		s.logger.Error().
			Int("failed_objects", len(failed)).
			Dur("duration", time.Since(startTime)).
			Msg("export run completed with failures")
		if len(failed) == 0 {
			return summaries, fmt.Errorf("%w: orphan files could not be pruned", models.ErrExportFailed)
		}
		return summaries, fmt.Errorf("%w: %d object(s) failed", models.ErrExportFailed, len(failed))
	}

	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("export run completed successfully")

	return summaries, nil
}
