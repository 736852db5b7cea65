package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "opsbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "opsbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testMission(chatID int64) Mission {
	return Mission{
		Name:      "Operacja Zefir",
		ChatID:    chatID,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CreatorID: 7,
		StartsAt:  time.Date(2026, 3, 7, 19, 30, 0, 0, time.UTC),
	}
}

func TestMissionLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m, err := st.MissionByID(ctx, id)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if m.Name != "Operacja Zefir" || m.ChatID != -1001 || m.CreatorID != 7 {
		t.Fatalf("unexpected mission: %+v", m)
	}
	if !m.StartsAt.Equal(testMission(0).StartsAt) {
		t.Fatalf("starts_at round-trip: got %v", m.StartsAt)
	}

	byChat, err := st.MissionByChat(ctx, -1001)
	if err != nil || byChat.ID != id {
		t.Fatalf("by chat: %v %+v", err, byChat)
	}

	if _, err := st.CreateMission(ctx, testMission(-1001)); !errors.Is(err, ErrDuplicateChat) {
		t.Fatalf("second mission in same chat: got %v, want ErrDuplicateChat", err)
	}

	if err := st.DeleteMission(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteMission(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}
	if _, err := st.MissionByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read after delete: got %v, want ErrNotFound", err)
	}
}

func TestUpdateMissionKeepsUnsetFields(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Name only: start time stays.
	if err := st.UpdateMission(ctx, id, "Operacja Grom", time.Time{}); err != nil {
		t.Fatalf("update name: %v", err)
	}
	m, _ := st.MissionByID(ctx, id)
	if m.Name != "Operacja Grom" || !m.StartsAt.Equal(testMission(0).StartsAt) {
		t.Fatalf("after name update: %+v", m)
	}

	// Date only: name stays.
	newStart := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	if err := st.UpdateMission(ctx, id, "", newStart); err != nil {
		t.Fatalf("update date: %v", err)
	}
	m, _ = st.MissionByID(ctx, id)
	if m.Name != "Operacja Grom" || !m.StartsAt.Equal(newStart) {
		t.Fatalf("after date update: %+v", m)
	}

	if err := st.UpdateMission(ctx, id+99, "x", time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update unknown mission: got %v, want ErrNotFound", err)
	}
}

func TestCreateSquadWithSlots(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	missionID, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}

	sq := Squad{SurfaceID: 500, ChatID: -1001, MissionID: missionID, Name: "Alpha"}
	if err := st.CreateSquad(ctx, sq, []string{"Dowódca", "Medyk", "Strzelec"}); err != nil {
		t.Fatalf("create squad: %v", err)
	}

	slots, err := st.SlotsBySurface(ctx, 500)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3", len(slots))
	}
	for i, want := range []string{"Dowódca", "Medyk", "Strzelec"} {
		if slots[i].Label != want {
			t.Fatalf("slot %d label = %q, want %q", i, slots[i].Label, want)
		}
		if slots[i].ParticipantID != 0 || slots[i].ParticipantName != "" {
			t.Fatalf("slot %d not free: %+v", i, slots[i])
		}
	}

	if err := st.CreateSquad(ctx, sq, []string{"CKM"}); !errors.Is(err, ErrDuplicateSurface) {
		t.Fatalf("duplicate surface: got %v, want ErrDuplicateSurface", err)
	}
	// The failed insert must not leave orphan slots behind.
	slots, _ = st.SlotsBySurface(ctx, 500)
	if len(slots) != 3 {
		t.Fatalf("slots after failed duplicate: %d, want 3", len(slots))
	}

	byName, err := st.SquadByName(ctx, missionID, "Alpha")
	if err != nil || byName.SurfaceID != 500 {
		t.Fatalf("by name: %v %+v", err, byName)
	}
	if _, err := st.SquadByName(ctx, missionID, "Bravo"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown name: got %v, want ErrNotFound", err)
	}
}

func TestAssignSlot(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	missionID, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	for _, sq := range []Squad{
		{SurfaceID: 100, ChatID: -1001, MissionID: missionID, Name: "Alpha"},
		{SurfaceID: 200, ChatID: -1001, MissionID: missionID, Name: "Bravo"},
	} {
		if err := st.CreateSquad(ctx, sq, []string{"Dowódca", "Medyk"}); err != nil {
			t.Fatalf("create squad %s: %v", sq.Name, err)
		}
	}
	alpha, _ := st.SlotsBySurface(ctx, 100)
	bravo, _ := st.SlotsBySurface(ctx, 200)

	if err := st.AssignSlot(ctx, missionID, 100, alpha[0].ID, 42, "zolnierz42"); err != nil {
		t.Fatalf("assign free slot: %v", err)
	}
	got, err := st.SlotByParticipant(ctx, missionID, 42)
	if err != nil || got.ID != alpha[0].ID || got.ParticipantName != "zolnierz42" {
		t.Fatalf("slot by participant: %v %+v", err, got)
	}

	// Moving to another surface clears the old seat in the same transaction.
	if err := st.AssignSlot(ctx, missionID, 200, bravo[1].ID, 42, "zolnierz42"); err != nil {
		t.Fatalf("move: %v", err)
	}
	alpha, _ = st.SlotsBySurface(ctx, 100)
	if alpha[0].ParticipantID != 0 || alpha[0].ParticipantName != "" {
		t.Fatalf("old seat not cleared: %+v", alpha[0])
	}

	// A seat held by someone else stays theirs, and the failed mover keeps
	// their previous seat because the transaction rolls back.
	if err := st.AssignSlot(ctx, missionID, 200, bravo[1].ID, 77, "rywal"); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("taken slot: got %v, want ErrSlotTaken", err)
	}
	if err := st.AssignSlot(ctx, missionID, 100, alpha[0].ID, 77, "rywal"); err != nil {
		t.Fatalf("rival takes free seat: %v", err)
	}
	if err := st.AssignSlot(ctx, missionID, 200, bravo[1].ID, 77, "rywal"); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("taken slot again: got %v, want ErrSlotTaken", err)
	}
	kept, err := st.SlotByParticipant(ctx, missionID, 77)
	if err != nil || kept.ID != alpha[0].ID {
		t.Fatalf("failed mover lost their seat: %v %+v", err, kept)
	}

	// Re-assigning the held seat is allowed (refresh, not conflict).
	if err := st.AssignSlot(ctx, missionID, 200, bravo[1].ID, 42, "zolnierz42"); err != nil {
		t.Fatalf("re-assign own seat: %v", err)
	}

	if err := st.AssignSlot(ctx, missionID, 100, 9999, 42, "zolnierz42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown slot: got %v, want ErrNotFound", err)
	}

	if err := st.ClearParticipant(ctx, missionID, 42); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := st.SlotByParticipant(ctx, missionID, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("slot after clear: got %v, want ErrNotFound", err)
	}
	bravo, _ = st.SlotsBySurface(ctx, 200)
	if bravo[1].ParticipantName != "" {
		t.Fatalf("name not cleared: %+v", bravo[1])
	}
}

func TestDeleteMissionCascades(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	missionID, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	sq := Squad{SurfaceID: 100, ChatID: -1001, MissionID: missionID, Name: "Alpha"}
	if err := st.CreateSquad(ctx, sq, []string{"Dowódca"}); err != nil {
		t.Fatalf("create squad: %v", err)
	}

	if err := st.DeleteMission(ctx, missionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.SquadBySurface(ctx, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("squad survived cascade: %v", err)
	}
	slots, err := st.ListSlots(ctx)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("slots survived cascade: %+v", slots)
	}
}

func TestDeleteSquadCascadesSlots(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	missionID, err := st.CreateMission(ctx, testMission(-1001))
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	for _, sq := range []Squad{
		{SurfaceID: 100, ChatID: -1001, MissionID: missionID, Name: "Alpha"},
		{SurfaceID: 200, ChatID: -1001, MissionID: missionID, Name: "Bravo"},
	} {
		if err := st.CreateSquad(ctx, sq, []string{"Dowódca", "Medyk"}); err != nil {
			t.Fatalf("create squad %s: %v", sq.Name, err)
		}
	}

	if err := st.DeleteSquad(ctx, 100); err != nil {
		t.Fatalf("delete squad: %v", err)
	}
	slots, err := st.ListSlots(ctx)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	for _, sl := range slots {
		if sl.SurfaceID == 100 {
			t.Fatalf("slot survived squad cascade: %+v", sl)
		}
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}

	if err := st.DeleteSquad(ctx, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: got %v, want ErrNotFound", err)
	}
}
