// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the background janitor that prunes expired
// presence entries and typing locks.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/opad-go/internal/presence"
)

// PruneSchedule is the janitor cadence. TTLs in the presence layer are
// seconds-scale, so the cron runs with seconds resolution.
const PruneSchedule = "@every 5s"

// Scheduler handles scheduled maintenance of the ephemeral presence state.
type Scheduler struct {
	registry presence.Registry
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a new scheduler instance.
func New(registry presence.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
	}
}

// Start begins the scheduler with the presence/typing prune job.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(PruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := s.registry.Prune(ctx); err != nil {
			s.logger.Error("failed to prune presence state", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}
