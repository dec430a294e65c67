// Package poller coordinates periodic status and public-IP refresh.
// It owns the only mutable state in the system: the last known good
// snapshot and the cached IP result, both handed to subscribers as
// immutable values. A manual refresh always wins over the timer and is
// never silently dropped.
package poller

import (
	"context"
	"time"

	"github.com/lkaminski/tailview/pkg/ipinfo"
	"github.com/lkaminski/tailview/pkg/tailscale"
)

// DefaultInterval is the timer period between polls.
const DefaultInterval = 10 * time.Second

// StatusSource produces tailnet snapshots. Satisfied by *tailscale.Client.
type StatusSource interface {
	Status(ctx context.Context) (*tailscale.Snapshot, error)
}

// IPSource produces public-IP results. Satisfied by *ipinfo.Fetcher.
type IPSource interface {
	Fetch(ctx context.Context, force bool) (*ipinfo.Info, error)
}

// Update is one completed poll cycle, published to subscribers in
// completion order. Snapshot is the last known good snapshot: when the
// cycle's status fetch failed it carries the previous value and
// StatusErr reports the classified failure for this cycle.
type Update struct {
	Seq         int64
	Snapshot    *tailscale.Snapshot
	IPInfo      *ipinfo.Info
	StatusErr   error
	IPErr       error
	CompletedAt time.Time
}

// Orchestrator runs the Idle-Polling-Idle loop. A timer tick or a
// manual Refresh both request a poll; while one is in flight a timer
// tick is coalesced away entirely, and a manual request is remembered
// so exactly one more poll runs right after the current one completes.
type Orchestrator struct {
	status   StatusSource
	ip       IPSource
	interval time.Duration

	refreshCh chan struct{}
	subs      []chan Update
}

// New creates an orchestrator. interval <= 0 selects DefaultInterval.
func New(status StatusSource, ip IPSource, interval time.Duration) *Orchestrator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Orchestrator{
		status:    status,
		ip:        ip,
		interval:  interval,
		refreshCh: make(chan struct{}, 1),
	}
}

// Subscribe registers a listener before Run starts. Updates a slow
// subscriber cannot accept are dropped rather than blocking the loop.
func (o *Orchestrator) Subscribe() <-chan Update {
	ch := make(chan Update, 8)
	o.subs = append(o.subs, ch)
	return ch
}

// Refresh requests an immediate poll. Multiple calls while one is
// pending coalesce into a single extra poll.
func (o *Orchestrator) Refresh() {
	select {
	case o.refreshCh <- struct{}{}:
	default:
	}
}

type pollResult struct {
	seq      int64
	snapshot *tailscale.Snapshot
	ipInfo   *ipinfo.Info
	statErr  error
	ipErr    error
}

// Run executes the polling loop until ctx is cancelled. One poll is in
// flight at a time; results are published in completion order and a
// result that has been superseded by a newer completed poll is
// discarded. An in-flight poll at shutdown is abandoned: the command
// runner gives its process a grace period and the HTTP attempt is
// cancelled with the context.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	done := make(chan pollResult, 1)
	var (
		seq           int64
		lastPublished int64
		lastGood      *tailscale.Snapshot
		polling       bool
		pendingManual bool
	)

	start := func(force bool) {
		seq++
		polling = true
		go o.poll(ctx, seq, force, done)
	}

	// Immediate first poll so subscribers are not left blank for a
	// full interval.
	start(false)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !polling {
				start(false)
			}

		case <-o.refreshCh:
			if polling {
				pendingManual = true
			} else {
				start(true)
			}

		case res := <-done:
			polling = false
			// A refresh that arrived during this poll may still sit in
			// the channel; fold it into the same pending slot.
			select {
			case <-o.refreshCh:
				pendingManual = true
			default:
			}
			if res.seq > lastPublished {
				lastPublished = res.seq
				if res.statErr == nil {
					lastGood = res.snapshot
				}
				o.publish(Update{
					Seq:         res.seq,
					Snapshot:    firstNonNil(res.snapshot, lastGood),
					IPInfo:      res.ipInfo,
					StatusErr:   res.statErr,
					IPErr:       res.ipErr,
					CompletedAt: time.Now(),
				})
			}
			if pendingManual {
				pendingManual = false
				start(true)
			}
		}
	}
}

// poll performs one cycle: status snapshot and IP info. A manual
// refresh forces the IP cache to be bypassed; timer ticks let the TTL
// decide.
func (o *Orchestrator) poll(ctx context.Context, seq int64, force bool, done chan<- pollResult) {
	res := pollResult{seq: seq}
	res.snapshot, res.statErr = o.status.Status(ctx)
	res.ipInfo, res.ipErr = o.ip.Fetch(ctx, force)

	select {
	case done <- res:
	case <-ctx.Done():
		// Shutdown: result discarded.
	}
}

func (o *Orchestrator) publish(u Update) {
	for _, ch := range o.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func firstNonNil(a, b *tailscale.Snapshot) *tailscale.Snapshot {
	if a != nil {
		return a
	}
	return b
}
