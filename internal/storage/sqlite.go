package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "opsbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store at cfg.Path and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const timeFormat = time.RFC3339

// ---- Missions ----

func (s *sqliteStore) CreateMission(ctx context.Context, m Mission) (int64, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO missions(name, chat_id, created_at, creator_id, starts_at, notify_target)
		 VALUES(?,?,?,?,?,?)`,
		m.Name, m.ChatID, m.CreatedAt.UTC().Format(timeFormat), m.CreatorID,
		m.StartsAt.UTC().Format(timeFormat), nullStr(m.NotifyTarget),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateChat
		}
		return 0, err
	}
	return res.LastInsertId()
}

const missionCols = `id, name, chat_id, created_at, creator_id, starts_at, notify_target`

func (s *sqliteStore) scanMission(row interface{ Scan(...any) error }) (Mission, error) {
	var m Mission
	var createdAt, startsAt string
	var notify sql.NullString
	err := row.Scan(&m.ID, &m.Name, &m.ChatID, &createdAt, &m.CreatorID, &startsAt, &notify)
	if errors.Is(err, sql.ErrNoRows) {
		return Mission{}, ErrNotFound
	}
	if err != nil {
		return Mission{}, err
	}
	if m.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return Mission{}, fmt.Errorf("bad created_at for mission %d: %w", m.ID, err)
	}
	if m.StartsAt, err = time.Parse(timeFormat, startsAt); err != nil {
		return Mission{}, fmt.Errorf("bad starts_at for mission %d: %w", m.ID, err)
	}
	m.NotifyTarget = notify.String
	return m, nil
}

func (s *sqliteStore) MissionByID(ctx context.Context, id int64) (Mission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE id = ?`, id)
	return s.scanMission(row)
}

func (s *sqliteStore) MissionByChat(ctx context.Context, chatID int64) (Mission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE chat_id = ?`, chatID)
	return s.scanMission(row)
}

func (s *sqliteStore) ListMissions(ctx context.Context) ([]Mission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+missionCols+` FROM missions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mission
	for rows.Next() {
		m, err := s.scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMission changes the name and/or start time. Empty name or zero time
// keeps the current value.
func (s *sqliteStore) UpdateMission(ctx context.Context, id int64, name string, startsAt time.Time) error {
	m, err := s.MissionByID(ctx, id)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) != "" {
		m.Name = name
	}
	if !startsAt.IsZero() {
		m.StartsAt = startsAt
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE missions SET name = ?, starts_at = ? WHERE id = ?`,
		m.Name, m.StartsAt.UTC().Format(timeFormat), id,
	)
	return err
}

func (s *sqliteStore) DeleteMission(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM missions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Squads ----

// CreateSquad inserts the squad and its slots in one transaction so a signup
// surface never exists half-populated.
func (s *sqliteStore) CreateSquad(ctx context.Context, sq Squad, labels []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO squads(surface_id, chat_id, mission_id, name) VALUES(?,?,?,?)`,
		sq.SurfaceID, sq.ChatID, sq.MissionID, sq.Name,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSurface
		}
		return err
	}
	for _, label := range labels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slots(surface_id, mission_id, label) VALUES(?,?,?)`,
			sq.SurfaceID, sq.MissionID, label,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) scanSquad(row interface{ Scan(...any) error }) (Squad, error) {
	var sq Squad
	err := row.Scan(&sq.SurfaceID, &sq.ChatID, &sq.MissionID, &sq.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Squad{}, ErrNotFound
	}
	if err != nil {
		return Squad{}, err
	}
	return sq, nil
}

func (s *sqliteStore) SquadBySurface(ctx context.Context, surfaceID int64) (Squad, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT surface_id, chat_id, mission_id, name FROM squads WHERE surface_id = ?`, surfaceID)
	return s.scanSquad(row)
}

func (s *sqliteStore) SquadByName(ctx context.Context, missionID int64, name string) (Squad, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT surface_id, chat_id, mission_id, name FROM squads WHERE mission_id = ? AND name = ?`,
		missionID, name)
	return s.scanSquad(row)
}

func (s *sqliteStore) SquadsByMission(ctx context.Context, missionID int64) ([]Squad, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT surface_id, chat_id, mission_id, name FROM squads WHERE mission_id = ? ORDER BY surface_id`,
		missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Squad
	for rows.Next() {
		sq, err := s.scanSquad(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSquad(ctx context.Context, surfaceID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM squads WHERE surface_id = ?`, surfaceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Slots ----

const slotCols = `id, surface_id, mission_id, label, participant_id, participant_name`

func (s *sqliteStore) scanSlot(row interface{ Scan(...any) error }) (Slot, error) {
	var sl Slot
	var participant sql.NullInt64
	err := row.Scan(&sl.ID, &sl.SurfaceID, &sl.MissionID, &sl.Label, &participant, &sl.ParticipantName)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, ErrNotFound
	}
	if err != nil {
		return Slot{}, err
	}
	sl.ParticipantID = participant.Int64
	return sl, nil
}

func (s *sqliteStore) SlotsBySurface(ctx context.Context, surfaceID int64) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+slotCols+` FROM slots WHERE surface_id = ? ORDER BY id`, surfaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectSlots(rows)
}

func (s *sqliteStore) ListSlots(ctx context.Context) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+slotCols+` FROM slots ORDER BY surface_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectSlots(rows)
}

func (s *sqliteStore) collectSlots(rows *sql.Rows) ([]Slot, error) {
	var out []Slot
	for rows.Next() {
		sl, err := s.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SlotByParticipant(ctx context.Context, missionID, participantID int64) (Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+slotCols+` FROM slots WHERE mission_id = ? AND participant_id = ?`,
		missionID, participantID)
	return s.scanSlot(row)
}

// AssignSlot moves the participant onto the slot: any slot they currently
// hold in the mission is cleared and the target slot set, in one
// transaction. A slot held by someone else is left untouched and the whole
// operation fails with ErrSlotTaken.
func (s *sqliteStore) AssignSlot(ctx context.Context, missionID, surfaceID, slotID, participantID int64, participantName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE slots SET participant_id = NULL, participant_name = ''
		 WHERE mission_id = ? AND participant_id = ?`,
		missionID, participantID,
	); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE slots SET participant_id = ?, participant_name = ?
		 WHERE id = ? AND surface_id = ? AND mission_id = ?
		   AND (participant_id IS NULL OR participant_id = ?)`,
		participantID, participantName, slotID, surfaceID, missionID, participantID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing slot from an occupied one; either way the
		// rollback restores the participant's previous assignment.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM slots WHERE id = ? AND surface_id = ? AND mission_id = ?`,
			slotID, surfaceID, missionID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrSlotTaken
	}
	return tx.Commit()
}

func (s *sqliteStore) ClearParticipant(ctx context.Context, missionID, participantID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE slots SET participant_id = NULL, participant_name = ''
		 WHERE mission_id = ? AND participant_id = ?`,
		missionID, participantID,
	)
	return err
}

// ---- helpers ----

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
