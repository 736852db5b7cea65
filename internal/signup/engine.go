package signup

import (
	"context"
	"errors"

	"opsbot/internal/eventbus"
	"opsbot/internal/storage"
	"opsbot/pkg/logx"
)

// Engine applies slot mutations. Every mutation for a mission runs under
// that mission's mutex, so the read-decide-write sequence inside one call
// never interleaves with another call for the same mission. Mutations for
// different missions proceed in parallel.
type Engine struct {
	store storage.Store
	sync  *Syncer
	bus   eventbus.Bus
	log   logx.Logger
	locks *lockTable
}

func NewEngine(store storage.Store, sync *Syncer, bus eventbus.Bus, log logx.Logger) *Engine {
	return &Engine{
		store: store,
		sync:  sync,
		bus:   bus,
		log:   log.With(logx.String("comp", "signup")),
		locks: newLockTable(),
	}
}

// Assign puts the participant into the given slot, releasing whatever slot
// they held anywhere in the mission. Both steps commit atomically; losing
// the race for an occupied slot returns storage.ErrSlotTaken with the
// participant's previous slot intact.
//
// On success the target surface is redrawn, plus the surface the
// participant moved away from when it differs. Redraw failures are logged,
// never rolled back.
func (e *Engine) Assign(ctx context.Context, missionID, surfaceID, slotID, participantID int64, participantName string) error {
	unlock := e.locks.acquire(missionID)
	defer unlock()

	// Fail fast on a mission deleted while this call queued on the lock.
	if _, err := e.store.MissionByID(ctx, missionID); err != nil {
		return err
	}

	prev, err := e.store.SlotByParticipant(ctx, missionID, participantID)
	switch {
	case err == nil && prev.ID == slotID:
		// Re-picking the held slot is a no-op; still refresh the surface
		// so a stale view heals.
		e.sync.rebuildQuiet(ctx, surfaceID)
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	}

	if err := e.store.AssignSlot(ctx, missionID, surfaceID, slotID, participantID, participantName); err != nil {
		return err
	}

	e.log.Info("slot assigned",
		logx.Int64("mission_id", missionID),
		logx.Int64("slot_id", slotID),
		logx.Int64("participant_id", participantID))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeSlotAssigned, Data: map[string]int64{
		"mission_id":     missionID,
		"slot_id":        slotID,
		"participant_id": participantID,
	}})

	e.sync.rebuildQuiet(ctx, surfaceID)
	if prev.ID != 0 && prev.SurfaceID != surfaceID {
		e.sync.rebuildQuiet(ctx, prev.SurfaceID)
	}
	return nil
}

// Unassign frees whatever slot the participant holds in the mission and
// redraws its surface. The second return is false when they held none.
func (e *Engine) Unassign(ctx context.Context, missionID, participantID int64) (int64, bool, error) {
	unlock := e.locks.acquire(missionID)
	defer unlock()

	prev, err := e.store.SlotByParticipant(ctx, missionID, participantID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if err := e.store.ClearParticipant(ctx, missionID, participantID); err != nil {
		return 0, false, err
	}

	e.log.Info("slot cleared",
		logx.Int64("mission_id", missionID),
		logx.Int64("slot_id", prev.ID),
		logx.Int64("participant_id", participantID))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeSlotCleared, Data: map[string]int64{
		"mission_id":     missionID,
		"slot_id":        prev.ID,
		"participant_id": participantID,
	}})

	e.sync.rebuildQuiet(ctx, prev.SurfaceID)
	return prev.SurfaceID, true, nil
}

// PublishSquad records a squad bound to an already-sent surface message and
// creates its (all-free) slots. The caller sends the placeholder message
// first because the surface id is the squad's primary key.
func (e *Engine) PublishSquad(ctx context.Context, sq storage.Squad, labels []string) error {
	if len(labels) == 0 {
		return ErrNoSlots
	}
	if len(labels) > MaxSlots {
		return ErrTooManySlots
	}

	unlock := e.locks.acquire(sq.MissionID)
	defer unlock()

	if _, err := e.store.MissionByID(ctx, sq.MissionID); err != nil {
		return err
	}
	if err := e.store.CreateSquad(ctx, sq, labels); err != nil {
		return err
	}

	e.log.Info("squad published",
		logx.Int64("mission_id", sq.MissionID),
		logx.Int64("surface_id", sq.SurfaceID),
		logx.String("squad", sq.Name),
		logx.Int("slots", len(labels)))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeSquadPublished, Data: map[string]any{
		"mission_id": sq.MissionID,
		"surface_id": sq.SurfaceID,
		"squad":      sq.Name,
	}})

	e.sync.rebuildQuiet(ctx, sq.SurfaceID)
	return nil
}

// RemoveSquad deletes a squad, its slots, and its surface message.
func (e *Engine) RemoveSquad(ctx context.Context, missionID, surfaceID int64) error {
	unlock := e.locks.acquire(missionID)
	defer unlock()

	sq, err := e.store.SquadBySurface(ctx, surfaceID)
	if err != nil {
		return err
	}
	if sq.MissionID != missionID {
		return storage.ErrNotFound
	}
	if err := e.store.DeleteSquad(ctx, surfaceID); err != nil {
		return err
	}

	e.log.Info("squad removed",
		logx.Int64("mission_id", missionID),
		logx.Int64("surface_id", surfaceID),
		logx.String("squad", sq.Name))

	if err := e.sync.pres.RemoveSurface(ctx, sq.ChatID, surfaceID); err != nil {
		e.log.Warn("surface delete failed",
			logx.Int64("surface_id", surfaceID), logx.Err(err))
	}
	return nil
}

// DeleteMission removes the mission with everything under it. Squad
// surfaces are deleted from the chat best-effort after the store commit;
// the cascade in the store already dropped their rows.
func (e *Engine) DeleteMission(ctx context.Context, missionID int64) error {
	unlock := e.locks.acquire(missionID)
	defer unlock()

	squads, err := e.store.SquadsByMission(ctx, missionID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteMission(ctx, missionID); err != nil {
		return err
	}

	e.log.Info("mission deleted", logx.Int64("mission_id", missionID))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeMissionDeleted, Data: map[string]int64{
		"mission_id": missionID,
	}})

	for _, sq := range squads {
		if err := e.sync.pres.RemoveSurface(ctx, sq.ChatID, sq.SurfaceID); err != nil {
			e.log.Warn("surface delete failed",
				logx.Int64("surface_id", sq.SurfaceID), logx.Err(err))
		}
	}
	return nil
}
