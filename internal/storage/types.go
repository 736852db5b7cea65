package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the requested mission/squad/slot does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrSlotTaken means the slot is held by a different participant.
	ErrSlotTaken = errors.New("storage: slot already taken")
	// ErrDuplicateSurface means a squad already owns the surface id.
	ErrDuplicateSurface = errors.New("storage: surface already has a squad")
	// ErrDuplicateChat means the chat already hosts a mission.
	ErrDuplicateChat = errors.New("storage: chat already has a mission")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Mission is a scheduled group activity. ChatID is the origin context:
// at most one mission per chat.
type Mission struct {
	ID           int64
	Name         string
	ChatID       int64
	CreatedAt    time.Time
	CreatorID    int64
	StartsAt     time.Time
	NotifyTarget string // optional mention/role text for reminders
}

// Squad is a named group of slots tied 1:1 to a signup surface (message).
type Squad struct {
	SurfaceID int64
	ChatID    int64
	MissionID int64
	Name      string
}

// Slot is a single assignable seat. ParticipantID 0 means free.
// ParticipantName is the display name captured at signup time; the chat
// surface needs it because participant ids alone don't render as anything.
type Slot struct {
	ID              int64
	SurfaceID       int64
	MissionID       int64
	Label           string
	ParticipantID   int64
	ParticipantName string
}

// Store is the persistence API consumed by the signup engine and plugins.
type Store interface {
	CreateMission(ctx context.Context, m Mission) (int64, error)
	MissionByID(ctx context.Context, id int64) (Mission, error)
	MissionByChat(ctx context.Context, chatID int64) (Mission, error)
	ListMissions(ctx context.Context) ([]Mission, error)
	UpdateMission(ctx context.Context, id int64, name string, startsAt time.Time) error
	DeleteMission(ctx context.Context, id int64) error

	CreateSquad(ctx context.Context, sq Squad, labels []string) error
	SquadBySurface(ctx context.Context, surfaceID int64) (Squad, error)
	SquadByName(ctx context.Context, missionID int64, name string) (Squad, error)
	SquadsByMission(ctx context.Context, missionID int64) ([]Squad, error)
	DeleteSquad(ctx context.Context, surfaceID int64) error

	SlotsBySurface(ctx context.Context, surfaceID int64) ([]Slot, error)
	ListSlots(ctx context.Context) ([]Slot, error)
	SlotByParticipant(ctx context.Context, missionID, participantID int64) (Slot, error)
	AssignSlot(ctx context.Context, missionID, surfaceID, slotID, participantID int64, participantName string) error
	ClearParticipant(ctx context.Context, missionID, participantID int64) error

	Close() error
}
