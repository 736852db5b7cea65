package missions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"opsbot/internal/plugin"
	"opsbot/internal/storage"
	"opsbot/pkg/logx"
)

func (p *Plugin) Callbacks() []plugin.CallbackRoute {
	return []plugin.CallbackRoute{
		{Plugin: pluginName, Action: "pick", Timeout: 15 * time.Second, Handle: p.cbPick},
		{Plugin: pluginName, Action: "cancel_yes", Timeout: 30 * time.Second, Handle: p.cbCancelYes},
		{Plugin: pluginName, Action: "cancel_no", Timeout: 10 * time.Second, Handle: p.cbCancelNo},
	}
}

func (p *Plugin) answer(ctx context.Context, req *plugin.Request, text string) error {
	return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, text)
}

// cbPick handles a slot button press: payload is "<surface>:<slot>".
func (p *Plugin) cbPick(ctx context.Context, req *plugin.Request, payload string) error {
	surfStr, slotStr, ok := strings.Cut(payload, ":")
	if !ok {
		return fmt.Errorf("bad pick payload %q", payload)
	}
	surfaceID, err1 := strconv.ParseInt(surfStr, 10, 64)
	slotID, err2 := strconv.ParseInt(slotStr, 10, 64)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("bad pick payload %q", payload)
	}

	sq, err := p.deps.Store.SquadBySurface(ctx, surfaceID)
	if errors.Is(err, storage.ErrNotFound) {
		return p.answer(ctx, req, "Te zapisy już nie istnieją.")
	}
	if err != nil {
		return err
	}

	cb := req.Update.Callback
	err = p.eng.Assign(ctx, sq.MissionID, surfaceID, slotID, cb.FromID, cb.FromName)
	switch {
	case errors.Is(err, storage.ErrSlotTaken):
		return p.answer(ctx, req, "Ten slot jest już zajęty, wybierz inny.")
	case errors.Is(err, storage.ErrNotFound):
		return p.answer(ctx, req, "Ten slot już nie istnieje.")
	case err != nil:
		return err
	}
	return p.answer(ctx, req, "Zapisano!")
}

func (p *Plugin) cbCancelYes(ctx context.Context, req *plugin.Request, payload string) error {
	var t cancelTicket
	if err := p.tokens.GetJSON(payload, &t); err != nil {
		return p.answer(ctx, req, "To potwierdzenie wygasło.")
	}
	if req.FromID != t.RequesterID {
		return p.answer(ctx, req, "Tylko osoba anulująca może potwierdzić.")
	}
	p.tokens.Delete(payload)

	p.notif.Cancel(t.MissionID)
	err := p.eng.DeleteMission(ctx, t.MissionID)
	if errors.Is(err, storage.ErrNotFound) {
		return p.answer(ctx, req, "Misja już nie istnieje.")
	}
	if err != nil {
		return err
	}
	req.Log.Info("mission canceled", logx.Int64("mission_id", t.MissionID))

	// Replace the confirm prompt so the buttons disappear.
	ref := transportRef(req)
	_ = req.Adapter.EditText(ctx, ref, "Misja i wszystkie powiązane dane zostały usunięte.", nil)
	return nil
}

func (p *Plugin) cbCancelNo(ctx context.Context, req *plugin.Request, payload string) error {
	var t cancelTicket
	if err := p.tokens.GetJSON(payload, &t); err == nil && req.FromID != t.RequesterID {
		return p.answer(ctx, req, "Tylko osoba anulująca może odpowiedzieć.")
	}
	p.tokens.Delete(payload)
	ref := transportRef(req)
	_ = req.Adapter.EditText(ctx, ref, "Anulowanie misji przerwane.", nil)
	return nil
}
