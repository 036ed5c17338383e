// Package pipeline holds the scheduled maintenance jobs of a pool node.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerpool/internal/domain"
)

// SettlementSource lists settled pools and their event logs.
type SettlementSource interface {
	Settlements() []domain.SettlementReport
	Events(ctx context.Context, address common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error)
}

// Backfill archives settlements that are missing from cold storage, e.g.
// because S3 was unreachable when the pool settled.
type Backfill struct {
	source   SettlementSource
	archiver domain.SettlementArchiver
	logger   *slog.Logger
}

// NewBackfill creates a Backfill.
func NewBackfill(source SettlementSource, archiver domain.SettlementArchiver, logger *slog.Logger) *Backfill {
	return &Backfill{
		source:   source,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "settlement_backfill")),
	}
}

// Run executes a single pass and returns how many pools were archived.
func (b *Backfill) Run(ctx context.Context) (int, error) {
	reports := b.source.Settlements()
	b.logger.InfoContext(ctx, "starting backfill run", slog.Int("settled_pools", len(reports)))

	archived := 0
	var errs []error
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		_, err := b.archiver.LoadSettlement(ctx, report.Pool)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("check %s: %w", report.Pool.Hex(), err))
			continue
		}
		if err := b.archive(ctx, report); err != nil {
			errs = append(errs, err)
			continue
		}
		archived++
	}

	b.logger.InfoContext(ctx, "backfill run complete",
		slog.Int("archived", archived),
		slog.Int("failed", len(errs)),
	)
	return archived, errors.Join(errs...)
}

func (b *Backfill) archive(ctx context.Context, report domain.SettlementReport) error {
	// Events first: the report marks the pool as done.
	events, err := b.source.Events(ctx, report.Pool, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("load events %s: %w", report.Pool.Hex(), err)
	}
	if len(events) > 0 {
		if _, err := b.archiver.ArchiveEvents(ctx, report.Pool, events); err != nil {
			return fmt.Errorf("archive events %s: %w", report.Pool.Hex(), err)
		}
	}
	path, err := b.archiver.ArchiveSettlement(ctx, report)
	if err != nil {
		return fmt.Errorf("archive settlement %s: %w", report.Pool.Hex(), err)
	}
	b.logger.InfoContext(ctx, "settlement backfilled",
		slog.String("pool", report.Pool.Hex()),
		slog.String("path", path),
	)
	return nil
}

// RunCron runs the backfill on a cron schedule until the context is
// cancelled. It supports 5-field expressions:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (b *Backfill) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	b.logger.InfoContext(ctx, "backfill cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := b.Run(ctx); err != nil {
				b.logger.ErrorContext(ctx, "backfill run failed", slog.String("error", err.Error()))
			}
		}
	}
}
