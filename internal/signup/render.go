package signup

import (
	"context"
	"fmt"
	"strings"

	"opsbot/internal/storage"
	"opsbot/pkg/logx"
)

// SlotView is one slot line on a signup surface.
type SlotView struct {
	ID              int64
	Label           string
	ParticipantID   int64 // 0 = free
	ParticipantName string
}

// Taken reports whether the slot is occupied.
func (s SlotView) Taken() bool { return s.ParticipantID != 0 }

// SurfaceView is everything a presenter needs to redraw one squad message.
type SurfaceView struct {
	SurfaceID int64
	ChatID    int64
	MissionID int64
	Squad     string
	Slots     []SlotView
}

// Presenter renders surface state onto the chat transport. Implementations
// live next to the transport; the core never imports one.
type Presenter interface {
	// EditSurface redraws the squad message identified by v.SurfaceID.
	EditSurface(ctx context.Context, v SurfaceView) error

	// RemoveSurface deletes the squad message outright.
	RemoveSurface(ctx context.Context, chatID, surfaceID int64) error
}

// FormatRoster renders the body of a squad surface. The mention func turns
// a participant into transport markup; free slots render as "wolny".
func FormatRoster(v SurfaceView, mention func(id int64, name string) string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Zapisz się do drużyny %s:\n", v.Squad)
	for _, s := range v.Slots {
		if s.Taken() {
			fmt.Fprintf(&b, "- %s  ✅ - %s\n", s.Label, mention(s.ParticipantID, s.ParticipantName))
		} else {
			fmt.Fprintf(&b, "- %s  ❌ - wolny\n", s.Label)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Syncer rebuilds signup surfaces from stored state. A rebuild is the only
// way a surface changes: there is no incremental patching, so a lost edit
// heals on the next rebuild of the same surface.
type Syncer struct {
	store storage.Store
	pres  Presenter
	log   logx.Logger
}

func NewSyncer(store storage.Store, pres Presenter, log logx.Logger) *Syncer {
	return &Syncer{store: store, pres: pres, log: log.With(logx.String("comp", "syncer"))}
}

// View loads the current state of one surface.
func (s *Syncer) View(ctx context.Context, surfaceID int64) (SurfaceView, error) {
	sq, err := s.store.SquadBySurface(ctx, surfaceID)
	if err != nil {
		return SurfaceView{}, err
	}
	slots, err := s.store.SlotsBySurface(ctx, surfaceID)
	if err != nil {
		return SurfaceView{}, err
	}
	v := SurfaceView{
		SurfaceID: sq.SurfaceID,
		ChatID:    sq.ChatID,
		MissionID: sq.MissionID,
		Squad:     sq.Name,
		Slots:     make([]SlotView, 0, len(slots)),
	}
	for _, sl := range slots {
		v.Slots = append(v.Slots, SlotView{
			ID:              sl.ID,
			Label:           sl.Label,
			ParticipantID:   sl.ParticipantID,
			ParticipantName: sl.ParticipantName,
		})
	}
	return v, nil
}

// Rebuild redraws one surface from the store.
func (s *Syncer) Rebuild(ctx context.Context, surfaceID int64) error {
	v, err := s.View(ctx, surfaceID)
	if err != nil {
		return err
	}
	return s.pres.EditSurface(ctx, v)
}

// rebuildQuiet is Rebuild for callers whose state change already committed:
// a presentation failure is logged and swallowed, never rolled back.
func (s *Syncer) rebuildQuiet(ctx context.Context, surfaceID int64) {
	if err := s.Rebuild(ctx, surfaceID); err != nil {
		s.log.Warn("surface rebuild failed",
			logx.Int64("surface_id", surfaceID),
			logx.Err(err))
	}
}
