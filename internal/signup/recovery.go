package signup

import (
	"context"
	"sync"

	"opsbot/pkg/logx"
)

// Recovery rebuilds the volatile half of the signup state after a restart:
// it re-registers every stored surface so its controls answer again, and
// re-arms the pending notifications of every stored mission. Elapsed
// deadlines are dropped, never fired late.
//
// Restore is idempotent. The registered set guards surface registration,
// and re-arming a named timer replaces the pending run instead of adding
// a second one.
type Recovery struct {
	sync  *Syncer
	notif *Notifier
	log   logx.Logger

	mu         sync.Mutex
	registered map[int64]struct{}
}

func NewRecovery(sync *Syncer, notif *Notifier, log logx.Logger) *Recovery {
	return &Recovery{
		sync:       sync,
		notif:      notif,
		log:        log.With(logx.String("comp", "recovery")),
		registered: make(map[int64]struct{}),
	}
}

// Register marks a surface as live. It returns false when the surface was
// already registered. The publish path calls this for new surfaces so a
// later Restore skips them.
func (r *Recovery) Register(surfaceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registered[surfaceID]; ok {
		return false
	}
	r.registered[surfaceID] = struct{}{}
	return true
}

// Unregister forgets a surface that was removed from the chat.
func (r *Recovery) Unregister(surfaceID int64) {
	r.mu.Lock()
	delete(r.registered, surfaceID)
	r.mu.Unlock()
}

// Restore walks the store and brings every surface and pending
// notification back to life. A surface that fails to redraw stays
// registered; its next mutation redraws it anyway.
func (r *Recovery) Restore(ctx context.Context) error {
	slots, err := r.sync.store.ListSlots(ctx)
	if err != nil {
		return err
	}
	surfaces := make(map[int64]struct{})
	for _, sl := range slots {
		surfaces[sl.SurfaceID] = struct{}{}
	}

	restored := 0
	for id := range surfaces {
		if !r.Register(id) {
			continue
		}
		restored++
		r.sync.rebuildQuiet(ctx, id)
	}

	missions, err := r.sync.store.ListMissions(ctx)
	if err != nil {
		return err
	}
	for _, m := range missions {
		r.notif.ScheduleReminder(m)
		r.notif.ScheduleAnnouncement(m)
	}

	r.log.Info("signup state restored",
		logx.Int("surfaces", restored),
		logx.Int("missions", len(missions)))
	return nil
}
