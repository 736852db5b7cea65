package signup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"opsbot/internal/storage"
)

func TestAssignTakesFreeSlot(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := r.store.slot(1).ParticipantID; got != 42 {
		t.Fatalf("slot 1 participant = %d, want 42", got)
	}
	if got := r.pres.editsSince(0); len(got) != 1 || got[0] != 100 {
		t.Fatalf("edited surfaces = %v, want [100]", got)
	}
}

func TestAssignMovesAcrossSurfaces(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	n := r.pres.editCount()
	if err := r.eng.Assign(ctx, mid, 200, 3, 42, "zolnierz42"); err != nil {
		t.Fatalf("second Assign: %v", err)
	}

	if got := r.store.slot(1).ParticipantID; got != 0 {
		t.Fatalf("old slot participant = %d, want 0", got)
	}
	if got := r.store.slot(3).ParticipantID; got != 42 {
		t.Fatalf("new slot participant = %d, want 42", got)
	}
	// Exactly the two affected surfaces redraw, target first.
	if got := r.pres.editsSince(n); len(got) != 2 || got[0] != 200 || got[1] != 100 {
		t.Fatalf("edited surfaces = %v, want [200 100]", got)
	}
}

func TestAssignWithinSurfaceRedrawsOnce(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("first Assign: %v", err)
	}
	n := r.pres.editCount()
	if err := r.eng.Assign(ctx, mid, 100, 2, 42, "zolnierz42"); err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if got := r.pres.editsSince(n); len(got) != 1 || got[0] != 100 {
		t.Fatalf("edited surfaces = %v, want [100]", got)
	}
}

func TestAssignTakenSlotKeepsBothParticipants(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("occupant Assign: %v", err)
	}
	if err := r.eng.Assign(ctx, mid, 200, 3, 43, "zolnierz43"); err != nil {
		t.Fatalf("loser Assign: %v", err)
	}

	err := r.eng.Assign(ctx, mid, 100, 1, 43, "zolnierz43")
	if !errors.Is(err, storage.ErrSlotTaken) {
		t.Fatalf("Assign to taken slot: %v, want ErrSlotTaken", err)
	}
	if got := r.store.slot(1).ParticipantID; got != 42 {
		t.Fatalf("occupant displaced: slot 1 = %d, want 42", got)
	}
	if got := r.store.slot(3).ParticipantID; got != 43 {
		t.Fatalf("loser lost their slot: slot 3 = %d, want 43", got)
	}
}

func TestAssignHeldSlotIsNoop(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	n := r.pres.editCount()
	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("repeat Assign: %v", err)
	}
	if got := r.store.slot(1).ParticipantID; got != 42 {
		t.Fatalf("slot 1 = %d, want 42", got)
	}
	// The surface still refreshes so a stale view heals.
	if got := r.pres.editsSince(n); len(got) != 1 || got[0] != 100 {
		t.Fatalf("edited surfaces = %v, want [100]", got)
	}
}

func TestAssignUnknownSlot(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 999, 42, "zolnierz42"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown slot: %v, want ErrNotFound", err)
	}
	// Slot 3 exists but belongs to surface 200.
	if err := r.eng.Assign(ctx, mid, 100, 3, 42, "zolnierz42"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign slot: %v, want ErrNotFound", err)
	}
}

func TestAssignDeletedMission(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.store.DeleteMission(ctx, mid); err != nil {
		t.Fatalf("DeleteMission: %v", err)
	}
	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Assign after delete: %v, want ErrNotFound", err)
	}
}

func TestPresentationFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	r.pres.editErr = errors.New("edit refused")
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 100, 1, 42, "zolnierz42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got := r.store.slot(1).ParticipantID; got != 42 {
		t.Fatalf("assignment rolled back: slot 1 = %d, want 42", got)
	}
}

func TestUnassign(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.Assign(ctx, mid, 200, 4, 42, "zolnierz42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	surface, ok, err := r.eng.Unassign(ctx, mid, 42)
	if err != nil || !ok || surface != 200 {
		t.Fatalf("Unassign = (%d, %v, %v), want (200, true, nil)", surface, ok, err)
	}
	if got := r.store.slot(4).ParticipantID; got != 0 {
		t.Fatalf("slot 4 = %d, want 0", got)
	}

	_, ok, err = r.eng.Unassign(ctx, mid, 42)
	if err != nil || ok {
		t.Fatalf("second Unassign = (_, %v, %v), want (false, nil)", ok, err)
	}
}

func TestConcurrentAssignSingleWinner(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	const contenders = 16
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.eng.Assign(ctx, mid, 100, 1, int64(1000+i), fmt.Sprintf("gracz%d", i))
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrSlotTaken):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != contenders-1 {
		t.Fatalf("wins=%d losses=%d, want 1/%d", wins, losses, contenders-1)
	}
	if got := r.store.slot(1).ParticipantID; got < 1000 {
		t.Fatalf("slot 1 = %d, want one of the contenders", got)
	}
}

func TestPublishSquadSlotLimit(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	wide := make([]string, MaxSlots)
	for i := range wide {
		wide[i] = fmt.Sprintf("Strzelec %d", i+1)
	}
	sq := storage.Squad{SurfaceID: 300, ChatID: -1001, MissionID: mid, Name: "Charlie"}
	if err := r.eng.PublishSquad(ctx, sq, wide); err != nil {
		t.Fatalf("PublishSquad at limit: %v", err)
	}

	sq.SurfaceID, sq.Name = 400, "Delta"
	if err := r.eng.PublishSquad(ctx, sq, append(wide, "Nadmiarowy")); !errors.Is(err, ErrTooManySlots) {
		t.Fatalf("over limit: %v, want ErrTooManySlots", err)
	}
	if err := r.eng.PublishSquad(ctx, sq, nil); !errors.Is(err, ErrNoSlots) {
		t.Fatalf("empty: %v, want ErrNoSlots", err)
	}
}

func TestPublishSquadDuplicateSurface(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	sq := storage.Squad{SurfaceID: 100, ChatID: -1001, MissionID: mid, Name: "Echo"}
	if err := r.eng.PublishSquad(ctx, sq, []string{"Zwiadowca"}); !errors.Is(err, storage.ErrDuplicateSurface) {
		t.Fatalf("duplicate surface: %v, want ErrDuplicateSurface", err)
	}
}

func TestRemoveSquad(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.RemoveSquad(ctx, mid, 100); err != nil {
		t.Fatalf("RemoveSquad: %v", err)
	}
	if _, err := r.store.SquadBySurface(ctx, 100); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("squad still stored: %v", err)
	}
	if len(r.pres.removed) != 1 || r.pres.removed[0] != 100 {
		t.Fatalf("removed surfaces = %v, want [100]", r.pres.removed)
	}

	if err := r.eng.RemoveSquad(ctx, mid+1, 200); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign mission: %v, want ErrNotFound", err)
	}
}

func TestDeleteMissionRemovesSurfaces(t *testing.T) {
	t.Parallel()
	r := newTestRig()
	mid := seedMission(r)
	ctx := context.Background()

	if err := r.eng.DeleteMission(ctx, mid); err != nil {
		t.Fatalf("DeleteMission: %v", err)
	}
	if len(r.pres.removed) != 2 {
		t.Fatalf("removed surfaces = %v, want both", r.pres.removed)
	}
	slots, _ := r.store.ListSlots(ctx)
	if len(slots) != 0 {
		t.Fatalf("slots survived cascade: %v", slots)
	}
}
