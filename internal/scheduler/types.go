package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "opsbot/pkg/logx"
)

// Config controls the scheduler service.
type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	Timezone       string // IANA TZ, e.g. "Europe/Warsaw"
}

type task struct {
	id      string
	name    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

type scheduleDef struct {
	id      string
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

// Service runs recurring jobs (cron/interval) and named one-shot timers on a
// shared worker pool. One-shot timers are upserted by name, which makes
// re-scheduling after a date change or a restart idempotent.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	queue  chan task
	stopCh chan struct{}

	// one-time timers keyed by name; ver guards against stale callbacks
	// from timers that were replaced or removed before firing.
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceAt  map[string]time.Time
	onceJob map[string]func(ctx context.Context) error
	onceVer map[string]uint64
}
