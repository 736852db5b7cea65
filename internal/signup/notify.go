package signup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opsbot/internal/storage"
	"opsbot/pkg/logx"
)

const (
	// ReminderLead is how long before mission start the reminder fires.
	ReminderLead = time.Hour
	// AnnounceDelay is how long after mission creation the announcement
	// fires. It stays relative to creation time even when that lands
	// after the mission start or after its reminder.
	AnnounceDelay = time.Hour
)

// Timers is the slice of the scheduler the notifier needs: named one-shot
// timers where re-adding a name replaces the pending run.
type Timers interface {
	AddOnce(name string, at time.Time, timeout time.Duration, job func(context.Context) error) (string, error)
	Remove(name string) bool
}

// Messenger delivers notification text into a chat.
type Messenger interface {
	SendNotice(ctx context.Context, chatID int64, text string) error
}

// Notifier owns the two deferred notifications of a mission's lifecycle.
// Timer state is volatile; Restore re-derives it from stored missions.
// Fired jobs read the mission fresh, so a mission deleted while its timer
// was pending fires into a debug log and nothing else.
type Notifier struct {
	store storage.Store
	tim   Timers
	send  Messenger
	log   logx.Logger

	now func() time.Time
}

func NewNotifier(store storage.Store, tim Timers, send Messenger, log logx.Logger) *Notifier {
	return &Notifier{
		store: store,
		tim:   tim,
		send:  send,
		log:   log.With(logx.String("comp", "notify")),
		now:   time.Now,
	}
}

func reminderName(missionID int64) string {
	return fmt.Sprintf("missions:reminder:%d", missionID)
}

func announceName(missionID int64) string {
	return fmt.Sprintf("missions:announce:%d", missionID)
}

// ScheduleReminder arms the start−1h reminder. A deadline already in the
// past is skipped, not fired late.
func (n *Notifier) ScheduleReminder(m storage.Mission) {
	at := m.StartsAt.Add(-ReminderLead)
	if !at.After(n.now()) {
		n.log.Debug("reminder deadline passed, skipping",
			logx.Int64("mission_id", m.ID),
			logx.Time("deadline", at))
		return
	}
	id := m.ID
	_, err := n.tim.AddOnce(reminderName(id), at, 0, func(ctx context.Context) error {
		return n.fireReminder(ctx, id)
	})
	if err != nil {
		n.log.Error("schedule reminder failed", logx.Int64("mission_id", id), logx.Err(err))
	}
}

// ScheduleAnnouncement arms the creation+1h announcement. Like the
// reminder, an already-elapsed deadline is dropped; at creation time the
// deadline is always in the future.
func (n *Notifier) ScheduleAnnouncement(m storage.Mission) {
	at := m.CreatedAt.Add(AnnounceDelay)
	if !at.After(n.now()) {
		n.log.Debug("announcement deadline passed, skipping",
			logx.Int64("mission_id", m.ID),
			logx.Time("deadline", at))
		return
	}
	id := m.ID
	_, err := n.tim.AddOnce(announceName(id), at, 0, func(ctx context.Context) error {
		return n.fireAnnouncement(ctx, id)
	})
	if err != nil {
		n.log.Error("schedule announcement failed", logx.Int64("mission_id", id), logx.Err(err))
	}
}

// RescheduleReminder re-arms the reminder after a date change. The stale
// timer is dropped first so a date moved into the past cannot leave the
// old reminder pending.
func (n *Notifier) RescheduleReminder(m storage.Mission) {
	n.tim.Remove(reminderName(m.ID))
	n.ScheduleReminder(m)
}

// Cancel drops both pending notifications for the mission.
func (n *Notifier) Cancel(missionID int64) {
	n.tim.Remove(reminderName(missionID))
	n.tim.Remove(announceName(missionID))
}

func (n *Notifier) fireReminder(ctx context.Context, missionID int64) error {
	m, err := n.store.MissionByID(ctx, missionID)
	if errors.Is(err, storage.ErrNotFound) {
		n.log.Debug("reminder for deleted mission", logx.Int64("mission_id", missionID))
		return nil
	}
	if err != nil {
		return err
	}
	text := fmt.Sprintf("⏰ %s Misja %s odbędzie się za godzinę! (%s)",
		m.NotifyTarget, m.Name, m.StartsAt.Format("2006-01-02 15:04:05"))
	return n.send.SendNotice(ctx, m.ChatID, text)
}

func (n *Notifier) fireAnnouncement(ctx context.Context, missionID int64) error {
	m, err := n.store.MissionByID(ctx, missionID)
	if errors.Is(err, storage.ErrNotFound) {
		n.log.Debug("announcement for deleted mission", logx.Int64("mission_id", missionID))
		return nil
	}
	if err != nil {
		return err
	}
	text := fmt.Sprintf("🚩 %s Zapraszam do zapisów na misję %s która odbędzie się %s. Szczegóły znajdziecie powyżej!",
		m.NotifyTarget, m.Name, m.StartsAt.Format("2006-01-02"))
	return n.send.SendNotice(ctx, m.ChatID, text)
}
