package signup

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsbot/internal/eventbus"
	"opsbot/internal/storage"
	"opsbot/pkg/logx"
)

// memStore is an in-memory storage.Store with the same transactional
// semantics as the sqlite implementation.
type memStore struct {
	mu        sync.Mutex
	missions  map[int64]storage.Mission
	squads    map[int64]storage.Squad
	slots     map[int64]storage.Slot
	nextID    int64
	nextSlot  int64
	assignErr error
}

func newMemStore() *memStore {
	return &memStore{
		missions: make(map[int64]storage.Mission),
		squads:   make(map[int64]storage.Squad),
		slots:    make(map[int64]storage.Slot),
	}
}

func (s *memStore) CreateMission(_ context.Context, m storage.Mission) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.missions {
		if ex.ChatID == m.ChatID {
			return 0, storage.ErrDuplicateChat
		}
	}
	s.nextID++
	m.ID = s.nextID
	s.missions[m.ID] = m
	return m.ID, nil
}

func (s *memStore) MissionByID(_ context.Context, id int64) (storage.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return storage.Mission{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *memStore) MissionByChat(_ context.Context, chatID int64) (storage.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.missions {
		if m.ChatID == chatID {
			return m, nil
		}
	}
	return storage.Mission{}, storage.ErrNotFound
}

func (s *memStore) ListMissions(_ context.Context) ([]storage.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpdateMission(_ context.Context, id int64, name string, startsAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if name != "" {
		m.Name = name
	}
	if !startsAt.IsZero() {
		m.StartsAt = startsAt
	}
	s.missions[id] = m
	return nil
}

func (s *memStore) DeleteMission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.missions, id)
	for sid, sq := range s.squads {
		if sq.MissionID == id {
			delete(s.squads, sid)
		}
	}
	for slid, sl := range s.slots {
		if sl.MissionID == id {
			delete(s.slots, slid)
		}
	}
	return nil
}

func (s *memStore) CreateSquad(_ context.Context, sq storage.Squad, labels []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.squads[sq.SurfaceID]; ok {
		return storage.ErrDuplicateSurface
	}
	s.squads[sq.SurfaceID] = sq
	for _, l := range labels {
		s.nextSlot++
		s.slots[s.nextSlot] = storage.Slot{
			ID: s.nextSlot, SurfaceID: sq.SurfaceID, MissionID: sq.MissionID, Label: l,
		}
	}
	return nil
}

func (s *memStore) SquadBySurface(_ context.Context, surfaceID int64) (storage.Squad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.squads[surfaceID]
	if !ok {
		return storage.Squad{}, storage.ErrNotFound
	}
	return sq, nil
}

func (s *memStore) SquadByName(_ context.Context, missionID int64, name string) (storage.Squad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sq := range s.squads {
		if sq.MissionID == missionID && sq.Name == name {
			return sq, nil
		}
	}
	return storage.Squad{}, storage.ErrNotFound
}

func (s *memStore) SquadsByMission(_ context.Context, missionID int64) ([]storage.Squad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Squad
	for _, sq := range s.squads {
		if sq.MissionID == missionID {
			out = append(out, sq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SurfaceID < out[j].SurfaceID })
	return out, nil
}

func (s *memStore) DeleteSquad(_ context.Context, surfaceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.squads[surfaceID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.squads, surfaceID)
	for id, sl := range s.slots {
		if sl.SurfaceID == surfaceID {
			delete(s.slots, id)
		}
	}
	return nil
}

func (s *memStore) SlotsBySurface(_ context.Context, surfaceID int64) ([]storage.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Slot
	for _, sl := range s.slots {
		if sl.SurfaceID == surfaceID {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListSlots(_ context.Context) ([]storage.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Slot, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SlotByParticipant(_ context.Context, missionID, participantID int64) (storage.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.MissionID == missionID && sl.ParticipantID == participantID {
			return sl, nil
		}
	}
	return storage.Slot{}, storage.ErrNotFound
}

func (s *memStore) AssignSlot(_ context.Context, missionID, surfaceID, slotID, participantID int64, participantName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignErr != nil {
		return s.assignErr
	}
	target, ok := s.slots[slotID]
	if !ok || target.SurfaceID != surfaceID || target.MissionID != missionID {
		return storage.ErrNotFound
	}
	if target.ParticipantID != 0 && target.ParticipantID != participantID {
		return storage.ErrSlotTaken
	}
	for id, sl := range s.slots {
		if sl.MissionID == missionID && sl.ParticipantID == participantID {
			sl.ParticipantID = 0
			sl.ParticipantName = ""
			s.slots[id] = sl
		}
	}
	target.ParticipantID = participantID
	target.ParticipantName = participantName
	s.slots[slotID] = target
	return nil
}

func (s *memStore) ClearParticipant(_ context.Context, missionID, participantID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sl := range s.slots {
		if sl.MissionID == missionID && sl.ParticipantID == participantID {
			sl.ParticipantID = 0
			sl.ParticipantName = ""
			s.slots[id] = sl
		}
	}
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) slot(id int64) storage.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

// recordingPresenter captures surface edits and removals.
type recordingPresenter struct {
	mu      sync.Mutex
	edits   []int64
	removed []int64
	editErr error
}

func (p *recordingPresenter) EditSurface(_ context.Context, v SurfaceView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, v.SurfaceID)
	return p.editErr
}

func (p *recordingPresenter) RemoveSurface(_ context.Context, _ int64, surfaceID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, surfaceID)
	return nil
}

func (p *recordingPresenter) editsSince(n int) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, len(p.edits)-n)
	copy(out, p.edits[n:])
	return out
}

func (p *recordingPresenter) editCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.edits)
}

type testRig struct {
	store *memStore
	pres  *recordingPresenter
	eng   *Engine
	sync  *Syncer
}

func newTestRig() *testRig {
	store := newMemStore()
	pres := &recordingPresenter{}
	sy := NewSyncer(store, pres, logx.Nop())
	eng := NewEngine(store, sy, eventbus.New(), logx.Nop())
	return &testRig{store: store, pres: pres, eng: eng, sync: sy}
}

// seedMission creates a mission with two squads of two slots each and
// returns the mission id; surfaces are 100 and 200, slots 1..4.
func seedMission(r *testRig) int64 {
	ctx := context.Background()
	id, err := r.store.CreateMission(ctx, storage.Mission{
		Name:      "Operacja Zefir",
		ChatID:    -1001,
		CreatedAt: time.Now(),
		CreatorID: 7,
		StartsAt:  time.Now().Add(6 * time.Hour),
	})
	if err != nil {
		panic(err)
	}
	for _, sq := range []struct {
		surface int64
		name    string
	}{{100, "Alpha"}, {200, "Bravo"}} {
		err := r.store.CreateSquad(ctx, storage.Squad{
			SurfaceID: sq.surface, ChatID: -1001, MissionID: id, Name: sq.name,
		}, []string{"Dowódca", "Medyk"})
		if err != nil {
			panic(err)
		}
	}
	return id
}
