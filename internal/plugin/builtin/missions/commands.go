package missions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"opsbot/internal/eventbus"
	"opsbot/internal/plugin"
	"opsbot/internal/signup"
	"opsbot/internal/storage"
	"opsbot/internal/transport"
	"opsbot/pkg/logx"
	"opsbot/pkg/tgui"
)

const dateLayout = "2006-01-02 15:04:05"

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Name:        "mission_create",
			Description: "Utwórz misję w bieżącym czacie",
			Usage:       "/mission_create <nazwa> ; <YYYY-MM-DD HH:MM:SS> ; [cel powiadomień]",
			Access:      plugin.AccessMaker,
			Menu:        true,
			Handle:      p.cmdMissionCreate,
		},
		{
			Name:        "mission_edit",
			Description: "Zmień nazwę lub datę misji",
			Usage:       "/mission_edit <nowa nazwa> ; [nowa data]",
			Access:      plugin.AccessMaker,
			Menu:        true,
			Handle:      p.cmdMissionEdit,
		},
		{
			Name:        "mission_cancel",
			Description: "Anuluj misję i usuń wszystkie powiązane dane",
			Usage:       "/mission_cancel",
			Access:      plugin.AccessMaker,
			Menu:        true,
			Handle:      p.cmdMissionCancel,
		},
		{
			Name:        "mission_info",
			Description: "Pokaż misję i stan zapisów",
			Usage:       "/mission_info",
			Menu:        true,
			Handle:      p.cmdMissionInfo,
		},
		{
			Name:        "squad_publish",
			Description: "Opublikuj wiadomość do zapisów dla drużyny",
			Usage:       "/squad_publish <drużyna>: <slot;slot;...>",
			Access:      plugin.AccessMaker,
			Menu:        true,
			Handle:      p.cmdSquadPublish,
		},
		{
			Name:        "squad_remove",
			Description: "Usuń wiadomość do zapisów drużyny",
			Usage:       "/squad_remove <drużyna>",
			Access:      plugin.AccessMaker,
			Handle:      p.cmdSquadRemove,
		},
		{
			Name:        "signup_remove",
			Description: "Wypisz siebie (lub wskazanego gracza) z misji",
			Usage:       "/signup_remove [id lub nazwa gracza]",
			Handle:      p.cmdSignupRemove,
		},
	}
}

func reply(ctx context.Context, req *plugin.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

// missionFromChat resolves the chat's mission or tells the user this is not
// a mission chat.
func (p *Plugin) missionFromChat(ctx context.Context, req *plugin.Request) (storage.Mission, bool, error) {
	m, err := p.deps.Store.MissionByChat(ctx, req.Chat.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Mission{}, false, reply(ctx, req, "Ta komenda może być użyta tylko w czacie misji.")
	}
	if err != nil {
		return storage.Mission{}, false, err
	}
	return m, true, nil
}

// canManage reports whether the user may act on the mission: its creator
// or an admin.
func canManage(req *plugin.Request, m storage.Mission) bool {
	return req.FromID == m.CreatorID || req.Config.IsAdmin(req.FromID)
}

// splitSemi splits "a ; b ; c" keeping empty segments so callers can treat
// positions as optional ("; 2026-01-08 18:30:00" edits only the date).
func splitSemi(s string) []string {
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (p *Plugin) cmdMissionCreate(ctx context.Context, req *plugin.Request) error {
	fields := splitSemi(req.ArgLine)
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return reply(ctx, req, "Użycie: /mission_create <nazwa> ; <YYYY-MM-DD HH:MM:SS> ; [cel powiadomień]")
	}
	name, dateStr := fields[0], fields[1]
	notifyTarget := ""
	if len(fields) > 2 {
		notifyTarget = fields[2]
	}

	startsAt, err := time.ParseInLocation(dateLayout, dateStr, p.deps.Scheduler.Location())
	if err != nil {
		return reply(ctx, req, "Niepoprawny format daty. Użyj YYYY-MM-DD HH:MM:SS.")
	}
	if !startsAt.After(time.Now()) {
		return reply(ctx, req, "Data misji musi być w przyszłości.")
	}

	m := storage.Mission{
		Name:         name,
		ChatID:       req.Chat.ChatID,
		CreatedAt:    time.Now(),
		CreatorID:    req.FromID,
		StartsAt:     startsAt,
		NotifyTarget: notifyTarget,
	}
	id, err := p.deps.Store.CreateMission(ctx, m)
	if errors.Is(err, storage.ErrDuplicateChat) {
		return reply(ctx, req, "W tym czacie już istnieje misja.")
	}
	if err != nil {
		return err
	}
	m.ID = id

	p.notif.ScheduleReminder(m)
	p.notif.ScheduleAnnouncement(m)
	p.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeMissionCreated, Data: map[string]any{
		"mission_id": id, "chat_id": m.ChatID, "name": m.Name,
	}})
	req.Log.Info("mission created",
		logx.Int64("mission_id", id),
		logx.String("name", m.Name),
		logx.Time("starts_at", m.StartsAt))

	return reply(ctx, req, fmt.Sprintf(
		"Utworzono misję %s. Ten czat służy teraz jako czat misji.\nZa godzinę zostanie wysłane ogłoszenie o zapisach.", m.Name))
}

func (p *Plugin) cmdMissionEdit(ctx context.Context, req *plugin.Request) error {
	fields := splitSemi(req.ArgLine)
	name := fields[0]
	dateStr := ""
	if len(fields) > 1 {
		dateStr = fields[1]
	}
	if name == "" && dateStr == "" {
		return reply(ctx, req, "Musisz podać nową nazwę lub datę misji.")
	}

	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}
	if !canManage(req, m) {
		return reply(ctx, req, "Tylko twórca misji może edytować misję.")
	}

	var startsAt time.Time
	if dateStr != "" {
		startsAt, err = time.ParseInLocation(dateLayout, dateStr, p.deps.Scheduler.Location())
		if err != nil {
			return reply(ctx, req, "Niepoprawny format daty. Użyj YYYY-MM-DD HH:MM:SS.")
		}
	}
	if err := p.deps.Store.UpdateMission(ctx, m.ID, name, startsAt); err != nil {
		return err
	}
	if !startsAt.IsZero() {
		updated, err := p.deps.Store.MissionByID(ctx, m.ID)
		if err != nil {
			return err
		}
		p.notif.RescheduleReminder(updated)
	}
	req.Log.Info("mission edited", logx.Int64("mission_id", m.ID))
	return reply(ctx, req, "Misja została zaktualizowana.")
}

// cancelTicket is the confirm-flow payload held in the token store.
type cancelTicket struct {
	MissionID   int64 `json:"m"`
	RequesterID int64 `json:"u"`
}

func (p *Plugin) cmdMissionCancel(ctx context.Context, req *plugin.Request) error {
	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}
	if !canManage(req, m) {
		return reply(ctx, req, "Tylko twórca misji może anulować misję.")
	}

	tok, err := p.tokens.PutJSON(cancelTicket{MissionID: m.ID, RequesterID: req.FromID})
	if err != nil {
		return err
	}
	kb := tgui.ConfirmInline(
		tgui.Btn("Tak, usuń", tgui.Data(pluginName, "cancel_yes", tok)),
		tgui.Btn("Nie", tgui.Data(pluginName, "cancel_no", tok)),
	)
	msg := tgui.Message{
		Text: fmt.Sprintf("Czy na pewno chcesz anulować misję %s? Usunie to wszystkie drużyny i zapisy.", tgui.B(m.Name)),
		Opt: &transport.SendOptions{
			ParseMode:          "HTML",
			ReplyMarkupAdapter: kb.Markup(),
		},
	}
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (p *Plugin) cmdSquadPublish(ctx context.Context, req *plugin.Request) error {
	name, slotLine, found := strings.Cut(req.ArgLine, ":")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return reply(ctx, req, "Użycie: /squad_publish <drużyna>: <slot;slot;...>")
	}
	var labels []string
	for _, l := range strings.Split(slotLine, ";") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	if len(labels) == 0 {
		return reply(ctx, req, "Podaj przynajmniej jeden slot, np. strzelec;medyk;KM.")
	}
	if len(labels) > signup.MaxSlots {
		return reply(ctx, req, fmt.Sprintf("Maksymalna liczba slotów to %d.", signup.MaxSlots))
	}

	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}
	if !canManage(req, m) {
		return reply(ctx, req, "Tylko twórca misji może tworzyć wiadomości do zapisów.")
	}

	// The surface message has to exist first: its message id is the squad
	// key. The publish call then redraws it into the real roster.
	ref, err := req.Adapter.SendText(ctx, req.Chat, "📋 Przygotowuję zapisy...", nil)
	if err != nil {
		return err
	}
	sq := storage.Squad{
		SurfaceID: int64(ref.MessageID),
		ChatID:    req.Chat.ChatID,
		MissionID: m.ID,
		Name:      name,
	}
	if err := p.eng.PublishSquad(ctx, sq, labels); err != nil {
		_ = req.Adapter.DeleteMessage(ctx, ref)
		if errors.Is(err, storage.ErrDuplicateSurface) {
			return reply(ctx, req, "Ta wiadomość ma już przypisaną drużynę.")
		}
		return err
	}
	p.rec.Register(sq.SurfaceID)
	return nil
}

func (p *Plugin) cmdSquadRemove(ctx context.Context, req *plugin.Request) error {
	name := strings.TrimSpace(req.ArgLine)
	if name == "" {
		return reply(ctx, req, "Użycie: /squad_remove <drużyna>")
	}
	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}
	if !canManage(req, m) {
		return reply(ctx, req, "Tylko twórca misji może usuwać wiadomości do zapisów.")
	}

	sq, err := p.deps.Store.SquadByName(ctx, m.ID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return reply(ctx, req, fmt.Sprintf("Nie znaleziono drużyny o podanej nazwie %s.", name))
	}
	if err != nil {
		return err
	}
	if err := p.eng.RemoveSquad(ctx, m.ID, sq.SurfaceID); err != nil {
		return err
	}
	p.rec.Unregister(sq.SurfaceID)
	return reply(ctx, req, "Wiadomość do zapisów została usunięta.")
}

func (p *Plugin) cmdSignupRemove(ctx context.Context, req *plugin.Request) error {
	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}

	target := req.FromID
	label := "Zostałeś wypisany"
	if arg := strings.TrimSpace(req.ArgLine); arg != "" {
		if !canManage(req, m) {
			return reply(ctx, req, "Możesz wypisać tylko siebie, chyba że jesteś administratorem lub twórcą misji.")
		}
		target, err = p.resolveParticipant(ctx, m.ID, arg)
		if err != nil {
			return reply(ctx, req, fmt.Sprintf("Nie znaleziono gracza %s na liście zapisów.", arg))
		}
		label = fmt.Sprintf("Gracz %s został wypisany", arg)
	}

	_, removed, err := p.eng.Unassign(ctx, m.ID, target)
	if err != nil {
		return err
	}
	if !removed {
		return reply(ctx, req, fmt.Sprintf("Brak zapisu na misję %s.", m.Name))
	}
	req.Log.Info("signup removed",
		logx.Int64("mission_id", m.ID),
		logx.Int64("participant_id", target))
	return reply(ctx, req, fmt.Sprintf("%s z misji %s.", label, m.Name))
}

// resolveParticipant turns a numeric id or a stored signup name into a
// participant id for the mission.
func (p *Plugin) resolveParticipant(ctx context.Context, missionID int64, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	name := strings.TrimPrefix(arg, "@")
	squads, err := p.deps.Store.SquadsByMission(ctx, missionID)
	if err != nil {
		return 0, err
	}
	for _, sq := range squads {
		slots, err := p.deps.Store.SlotsBySurface(ctx, sq.SurfaceID)
		if err != nil {
			return 0, err
		}
		for _, sl := range slots {
			if sl.ParticipantID != 0 && strings.EqualFold(sl.ParticipantName, name) {
				return sl.ParticipantID, nil
			}
		}
	}
	return 0, storage.ErrNotFound
}

func (p *Plugin) cmdMissionInfo(ctx context.Context, req *plugin.Request) error {
	m, ok, err := p.missionFromChat(ctx, req)
	if !ok {
		return err
	}
	squads, err := p.deps.Store.SquadsByMission(ctx, m.ID)
	if err != nil {
		return err
	}

	b := tgui.New().
		Title("🗓", m.Name).
		KV("Start", m.StartsAt.In(p.deps.Scheduler.Location()).Format(dateLayout))
	if m.NotifyTarget != "" {
		b.KV("Powiadomienia", m.NotifyTarget)
	}
	b.Blank()

	if len(squads) == 0 {
		b.Line("Brak drużyn. Użyj /squad_publish aby otworzyć zapisy.")
	}
	for _, sq := range squads {
		slots, err := p.deps.Store.SlotsBySurface(ctx, sq.SurfaceID)
		if err != nil {
			return err
		}
		taken := 0
		for _, sl := range slots {
			if sl.ParticipantID != 0 {
				taken++
			}
		}
		b.Line(fmt.Sprintf("%s: %d/%d zajętych", sq.Name, taken, len(slots)))
	}

	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
