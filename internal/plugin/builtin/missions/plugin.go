// Package missions is the signup coordinator: one mission per chat, squad
// signup messages with one button per free slot, and the deferred reminder
// and announcement around each mission.
package missions

import (
	"context"
	"errors"
	"time"

	"opsbot/internal/plugin"
	"opsbot/internal/signup"
	"opsbot/internal/storage"
	"opsbot/pkg/logx"
	"opsbot/pkg/tgui"
)

const pluginName = "missions"

// prunedAfter is how long after its start a mission is swept so the chat
// can host the next one without a manual /mission_cancel.
const prunedAfter = 7 * 24 * time.Hour

type Plugin struct {
	deps plugin.Deps
	log  logx.Logger

	pres   *presenter
	sync   *signup.Syncer
	eng    *signup.Engine
	notif  *signup.Notifier
	rec    *signup.Recovery
	tokens *tgui.TokenStore
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	if deps.Store == nil {
		return errors.New("missions: storage is required")
	}
	if deps.Scheduler == nil {
		return errors.New("missions: scheduler is required")
	}
	p.deps = deps
	p.log = deps.Logger

	p.pres = &presenter{ad: deps.Adapter, log: p.log}
	p.sync = signup.NewSyncer(deps.Store, p.pres, p.log)
	p.eng = signup.NewEngine(deps.Store, p.sync, deps.Bus, p.log)
	p.notif = signup.NewNotifier(deps.Store, deps.Scheduler, p.pres, p.log)
	p.rec = signup.NewRecovery(p.sync, p.notif, p.log)
	p.tokens = tgui.NewTokenStore().WithTTL(5 * time.Minute)
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	if err := p.rec.Restore(ctx); err != nil {
		return err
	}
	// Nightly sweep of missions long past their start.
	_, err := p.deps.Scheduler.AddCron("missions:prune", "0 4 * * *", time.Minute, p.pruneFinished)
	return err
}

func (p *Plugin) Stop(ctx context.Context) error {
	p.deps.Scheduler.Remove("missions:prune")
	return nil
}

func (p *Plugin) pruneFinished(ctx context.Context) error {
	missions, err := p.deps.Store.ListMissions(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-prunedAfter)
	for _, m := range missions {
		if m.StartsAt.After(cutoff) {
			continue
		}
		p.notif.Cancel(m.ID)
		if err := p.eng.DeleteMission(ctx, m.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.log.Warn("prune failed",
				logx.Int64("mission_id", m.ID), logx.Err(err))
			continue
		}
		p.log.Info("pruned finished mission",
			logx.Int64("mission_id", m.ID),
			logx.String("name", m.Name),
			logx.Time("starts_at", m.StartsAt))
	}
	return nil
}
