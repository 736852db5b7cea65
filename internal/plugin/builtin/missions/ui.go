package missions

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"opsbot/internal/plugin"
	"opsbot/internal/signup"
	"opsbot/internal/transport"
	"opsbot/pkg/logx"
	"opsbot/pkg/tgui"
)

// presenter renders signup surfaces and notices onto the chat transport.
// It implements signup.Presenter and the notifier's Messenger.
type presenter struct {
	ad  transport.Adapter
	log logx.Logger
}

func mention(id int64, name string) string {
	if name == "" {
		name = fmt.Sprintf("gracz %d", id)
	}
	return tgui.Mention(name, id).String()
}

// rosterText renders the surface body as HTML. Squad names and slot labels
// are operator input and go through escaping before the shared formatter.
func rosterText(v signup.SurfaceView) string {
	ev := v
	ev.Squad = tgui.B(v.Squad).String()
	ev.Slots = make([]signup.SlotView, len(v.Slots))
	for i, s := range v.Slots {
		s.Label = tgui.Esc(s.Label).String()
		ev.Slots[i] = s
	}
	return signup.FormatRoster(ev, mention)
}

// pickKeyboard builds one button per free slot. Taken slots get no button;
// re-picking your own slot is a no-op anyway.
func pickKeyboard(v signup.SurfaceView) *tele.ReplyMarkup {
	var btns []tele.Btn
	for _, s := range v.Slots {
		if s.Taken() {
			continue
		}
		payload := fmt.Sprintf("%d:%d", v.SurfaceID, s.ID)
		btns = append(btns, tgui.Btn(tgui.TruncRunes(s.Label, 32), tgui.Data(pluginName, "pick", payload)))
	}
	if len(btns) == 0 {
		return nil
	}
	return tgui.Grid2(btns)
}

func surfaceRef(v signup.SurfaceView) transport.MessageRef {
	return transport.MessageRef{ChatID: v.ChatID, MessageID: int(v.SurfaceID)}
}

func transportRef(req *plugin.Request) transport.MessageRef {
	cb := req.Update.Callback
	return transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
}

func (p *presenter) EditSurface(ctx context.Context, v signup.SurfaceView) error {
	msg := tgui.Message{
		Text: rosterText(v),
		Opt: &transport.SendOptions{
			ParseMode:          "HTML",
			DisablePreview:     true,
			ReplyMarkupAdapter: pickKeyboard(v),
		},
	}
	return msg.Edit(ctx, p.ad, surfaceRef(v))
}

func (p *presenter) RemoveSurface(ctx context.Context, chatID, surfaceID int64) error {
	return p.ad.DeleteMessage(ctx, transport.MessageRef{ChatID: chatID, MessageID: int(surfaceID)})
}

func (p *presenter) SendNotice(ctx context.Context, chatID int64, text string) error {
	_, err := p.ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text,
		&transport.SendOptions{DisablePreview: true})
	return err
}
