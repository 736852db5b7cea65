// Package plugin is the small SDK the bot's features are built on: a
// plugin registers commands and callback routes, the manager routes
// incoming updates to them through a bounded worker pool.
package plugin

import (
	"context"
	"time"

	"opsbot/internal/config"
	"opsbot/internal/eventbus"
	"opsbot/internal/scheduler"
	"opsbot/internal/storage"
	"opsbot/internal/transport"
	"opsbot/pkg/logx"
)

// Access gates who may run a command. Checks use the committed config, so
// promoting a user takes effect on the next command without a restart.
type Access int

const (
	AccessEveryone Access = iota
	// AccessMaker allows mission makers and admins.
	AccessMaker
	// AccessAdmin allows admins only.
	AccessAdmin
)

type Command struct {
	// Name is the bare command word, e.g. "mission_create".
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc

	// Menu controls whether the command appears in the bot command menu.
	Menu bool
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data of the form "plugin:action:payload".
type CallbackRoute struct {
	Plugin  string
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// ArgLine is everything after the command word, untrimmed of inner
	// whitespace, for commands that parse ";"-separated fields.
	ArgLine string
	Payload string // callback payload
	ReqID   string

	Adapter transport.Adapter
	Config  *config.Config
	Log     logx.Logger
}

type Deps struct {
	Logger    logx.Logger
	Adapter   transport.Adapter
	Config    *config.Manager
	Store     storage.Store
	Bus       eventbus.Bus
	Scheduler *scheduler.Service
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// CallbackProvider is implemented by plugins that own inline-keyboard routes.
type CallbackProvider interface {
	Callbacks() []CallbackRoute
}
