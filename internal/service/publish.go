package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerpool/internal/domain"
	"github.com/alanyoungcy/wagerpool/internal/pool"
)

// commit fans the outcome of an accepted pool operation out to the
// configured collaborators and returns the fresh snapshot. The pool has
// already changed, so failures here are logged rather than returned.
//
// Concurrent commits of one pool may reach the store out of order. The
// snapshot version makes the store and cache keep the newest state; a
// stale save is expected and only logged at debug level.
func (s *PoolService) commit(ctx context.Context, p *pool.Pool, events []domain.PoolEvent) domain.PoolSnapshot {
	snap := p.Snapshot()
	for i := range events {
		events[i].ID = uuid.NewString()
	}

	if s.deps.Store != nil {
		err := s.deps.Store.Save(ctx, snap)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStaleSnapshot):
			s.logger.DebugContext(ctx, "newer pool snapshot already persisted",
				slog.String("pool", snap.Address.Hex()),
				slog.Uint64("version", snap.Version),
			)
		default:
			s.logger.ErrorContext(ctx, "persist pool snapshot failed",
				slog.String("pool", snap.Address.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Events != nil && len(events) > 0 {
		if err := s.deps.Events.Append(ctx, events); err != nil {
			s.logger.ErrorContext(ctx, "append pool events failed",
				slog.String("pool", snap.Address.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "pool cache refresh failed",
				slog.String("pool", snap.Address.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	settled := false
	for _, ev := range events {
		s.publish(ctx, ev)
		s.audit(ctx, string(ev.Type), auditDetail(ev))
		s.logger.InfoContext(ctx, "pool event",
			slog.String("pool", ev.Pool.Hex()),
			slog.String("type", string(ev.Type)),
			slog.String("state", ev.State.String()),
		)
		if ev.Terminal() {
			settled = true
			s.notify(ctx, ev, snap)
		}
	}
	if settled {
		s.archive(ctx, p)
	}
	return snap
}

func (s *PoolService) publish(ctx context.Context, ev domain.PoolEvent) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.ChannelPoolEvents, payload); err != nil {
		s.logger.WarnContext(ctx, "publish pool event failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) audit(ctx context.Context, event string, detail map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) notify(ctx context.Context, ev domain.PoolEvent, snap domain.PoolSnapshot) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.NotifyPool(ctx, ev, snap); err != nil {
		s.logger.WarnContext(ctx, "pool notification failed",
			slog.String("pool", ev.Pool.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// archive writes the settlement report and, when the event log is
// persisted, the full event history.
func (s *PoolService) archive(ctx context.Context, p *pool.Pool) {
	if s.deps.Archiver == nil {
		return
	}
	report, ok := p.Settlement()
	if !ok {
		return
	}
	log := s.logger.With(slog.String("pool", report.Pool.Hex()))
	path, err := s.deps.Archiver.ArchiveSettlement(ctx, report)
	if err != nil {
		log.ErrorContext(ctx, "archive settlement failed", slog.String("error", err.Error()))
		return
	}
	log.InfoContext(ctx, "settlement archived", slog.String("path", path))

	if s.deps.Events == nil {
		return
	}
	events, err := s.deps.Events.ListByPool(ctx, report.Pool, domain.ListOpts{})
	if err != nil {
		log.WarnContext(ctx, "load events for archive failed", slog.String("error", err.Error()))
		return
	}
	if _, err := s.deps.Archiver.ArchiveEvents(ctx, report.Pool, events); err != nil {
		log.WarnContext(ctx, "archive events failed", slog.String("error", err.Error()))
	}
}

func auditDetail(ev domain.PoolEvent) map[string]any {
	detail := map[string]any{
		"event_id": ev.ID,
		"pool":     ev.Pool.Hex(),
		"state":    ev.State.String(),
	}
	if ev.Account != (common.Address{}) {
		detail["account"] = ev.Account.Hex()
	}
	if ev.Outcome != domain.OutcomeNone {
		detail["outcome"] = ev.Outcome.String()
	}
	if ev.Amount != nil {
		detail["amount"] = ev.Amount.String()
	}
	if ev.Cycle > 0 {
		detail["cycle"] = ev.Cycle
	}
	return detail
}
