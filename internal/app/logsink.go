package app

import (
	"context"
	"sync/atomic"
	"time"

	transport "opsbot/internal/transport"
)

// logSink bridges logx to the operator log chat. It holds the target chat
// id itself so hot-reloads never have to rebuild the logging service.
type logSink struct {
	ad     transport.Adapter
	chatID atomic.Int64 // 0 means no target
}

func newLogSink(ad transport.Adapter) *logSink {
	return &logSink{ad: ad}
}

func (s *logSink) SetTarget(chatID int64) { s.chatID.Store(chatID) }

func (s *logSink) SendLogLine(msg string) {
	chatID := s.chatID.Load()
	if chatID == 0 || s.ad == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Best effort: a failed log delivery must never feed back into logging.
	_, _ = s.ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, msg, &transport.SendOptions{
		DisablePreview: true,
	})
}
