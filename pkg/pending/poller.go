package pending

import (
	"context"
	"log/slog"
	"time"
)

// PollInterval is how often an operator front-end checks for a new proposal.
const PollInterval = 2 * time.Second

// PeekFunc reports the currently visible proposal.
type PeekFunc func(ctx context.Context) (PendingRule, bool, error)

// Poller calls OnChange whenever the visible proposal appears, disappears or
// is replaced by one with a different id.
type Poller struct {
	Peek     PeekFunc
	OnChange func(p PendingRule, ok bool)
	Interval time.Duration
	log      *slog.Logger

	lastID string
	seen   bool
}

// NewPoller returns a poller using PollInterval.
func NewPoller(peek PeekFunc, onChange func(PendingRule, bool), log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		Peek:     peek,
		OnChange: onChange,
		Interval: PollInterval,
		log:      log,
	}
}

// LocalPeek adapts a Store for use by a Poller in the same process.
func LocalPeek(s *Store) PeekFunc {
	return func(context.Context) (PendingRule, bool, error) {
		p, ok := s.Peek()
		return p, ok, nil
	}
}

// Run checks once immediately and then on every tick until ctx ends.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = PollInterval
	}
	p.check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) {
	rule, ok, err := p.Peek(ctx)
	if err != nil {
		p.log.Warn("failed to poll pending rule", "error", err)
		return
	}
	id := ""
	if ok {
		id = rule.ID
	}
	if p.seen && id == p.lastID {
		return
	}
	p.seen = true
	p.lastID = id
	if p.OnChange != nil {
		p.OnChange(rule, ok)
	}
}
