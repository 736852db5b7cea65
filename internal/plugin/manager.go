package plugin

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"opsbot/internal/config"
	"opsbot/internal/transport"
	"opsbot/pkg/logx"
)

// genericFailureText is the reply for handler errors that have no specific
// user message. Detail stays in the logs.
const genericFailureText = "Wystąpił nieoczekiwany błąd."

// Manager owns the registered plugins and routes updates to their commands
// and callback handlers through a bounded worker pool.
type Manager struct {
	log  logx.Logger
	cfgm *config.Manager
	deps Deps

	mu        sync.RWMutex
	plugins   []Plugin
	commands  map[string]Command
	callbacks map[string]map[string]CallbackRoute

	jobs chan func()
}

func NewManager(log logx.Logger, cfgm *config.Manager, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:       log,
		cfgm:      cfgm,
		deps:      deps,
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		jobs:      make(chan func(), 256),
	}
}

// Register adds a plugin. Call before InitAll; registration is not
// hot-swappable.
func (m *Manager) Register(p Plugin) error {
	if p == nil || strings.TrimSpace(p.Name()) == "" {
		return fmt.Errorf("plugin must have a name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.plugins {
		if ex.Name() == p.Name() {
			return fmt.Errorf("plugin %q already registered", p.Name())
		}
	}
	m.plugins = append(m.plugins, p)
	return nil
}

// InitAll inits every plugin and builds the command/callback registry.
func (m *Manager) InitAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmds := map[string]Command{}
	cbs := map[string]map[string]CallbackRoute{}
	for _, p := range m.plugins {
		deps := m.deps
		deps.Logger = m.deps.Logger.With(logx.String("plugin", p.Name()))
		if err := p.Init(ctx, deps); err != nil {
			return fmt.Errorf("init plugin %s: %w", p.Name(), err)
		}
		for _, c := range p.Commands() {
			name := strings.TrimSpace(c.Name)
			if name == "" || c.Handle == nil {
				continue
			}
			if _, dup := cmds[name]; dup {
				return fmt.Errorf("plugin %s: command %q already registered", p.Name(), name)
			}
			cmds[name] = c
		}
		cp, ok := p.(CallbackProvider)
		if !ok {
			continue
		}
		for _, r := range cp.Callbacks() {
			if r.Plugin == "" || r.Action == "" || r.Handle == nil {
				continue
			}
			if cbs[r.Plugin] == nil {
				cbs[r.Plugin] = map[string]CallbackRoute{}
			}
			cbs[r.Plugin][r.Action] = r
		}
	}

	m.commands = cmds
	m.callbacks = cbs
	m.log.Info("plugins initialized",
		logx.Int("plugins", len(m.plugins)),
		logx.Int("commands", len(cmds)))
	return nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	plugins := append([]Plugin(nil), m.plugins...)
	m.mu.RUnlock()
	for _, p := range plugins {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("start plugin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops plugins in reverse registration order. First error wins,
// but every plugin gets its Stop call.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	plugins := append([]Plugin(nil), m.plugins...)
	m.mu.RUnlock()

	var firstErr error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PushMenu publishes the visible commands to the platform menu when the
// adapter supports it.
func (m *Manager) PushMenu(ctx context.Context) {
	upd, ok := m.deps.Adapter.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	m.mu.RLock()
	menu := make([]transport.BotCommand, 0, len(m.commands))
	for name, c := range m.commands {
		if !c.Menu {
			continue
		}
		menu = append(menu, transport.BotCommand{Command: name, Description: c.Description})
	}
	m.mu.RUnlock()
	sort.Slice(menu, func(i, j int) bool { return menu[i].Command < menu[j].Command })

	if err := upd.UpdateMenuCommands(ctx, menu); err != nil {
		m.log.Warn("menu push failed", logx.Err(err))
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("dispatcher started", logx.Int("workers", workers))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in dispatch worker",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case transport.UpdateMessage:
				m.routeMessage(ctx, up)
			case transport.UpdateCallback:
				m.routeCallback(ctx, up)
			}
		}
	}
}

func (m *Manager) allowed(cmd Command, cfg *config.Config, fromID int64) bool {
	switch cmd.Access {
	case AccessAdmin:
		return cfg.IsAdmin(fromID)
	case AccessMaker:
		return cfg.IsMissionMaker(fromID)
	default:
		return true
	}
}

func (m *Manager) routeMessage(root context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	word, argLine, _ := strings.Cut(text[1:], " ")
	// strip "@botname" so group mentions route too
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	argLine = strings.TrimSpace(argLine)

	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		// Not every slash message is ours in a group chat; stay silent.
		return
	}

	cfg := m.cfgm.Get()
	chat := transport.ChatTarget{ChatID: msg.ChatID}
	if !m.allowed(cmd, cfg, msg.FromID) {
		_, _ = m.deps.Adapter.SendText(root, chat, "Nie masz uprawnień do tej komendy.", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: word,
		Args:    strings.Fields(argLine),
		ArgLine: argLine,
		ReqID:   rid,
		Adapter: m.deps.Adapter,
		Config:  cfg,
		Log: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	select {
	case m.jobs <- func() {
		// Handlers reply with specific messages themselves and return nil;
		// an error here is unexpected. Detail is already logged, the user
		// still deserves to hear that something broke.
		if err := final(root, req); err != nil {
			_, _ = m.deps.Adapter.SendText(root, req.Chat, genericFailureText, nil)
		}
	}:
	default:
		_, _ = m.deps.Adapter.SendText(root, req.Chat, "Bot jest zajęty, spróbuj ponownie.", nil)
	}
}

func (m *Manager) routeCallback(root context.Context, up transport.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		return
	}
	pluginName, action := parts[0], parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.mu.RLock()
	route, ok := m.callbacks[pluginName][action]
	m.mu.RUnlock()
	if !ok {
		_ = m.deps.Adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		Command: "cb:" + pluginName + ":" + action,
		Payload: payload,
		ReqID:   rid,
		Adapter: m.deps.Adapter,
		Config:  m.cfgm.Get(),
		Log: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+pluginName+":"+action),
		),
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(route.Timeout),
	)
	select {
	case m.jobs <- func() {
		err := final(root, req)
		// Stop the "loading" spinner even when the handler already
		// answered; Telegram treats a second answer as a no-op. An
		// unexpected handler error rides along as the answer text.
		text := ""
		if err != nil {
			text = genericFailureText
		}
		_ = m.deps.Adapter.AnswerCallback(root, cb.ID, text)
	}:
	default:
		_ = m.deps.Adapter.AnswerCallback(root, cb.ID, "busy")
	}
}
