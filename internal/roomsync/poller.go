package roomsync

import (
	"context"
	"time"
)

// poller repeatedly runs a fetch-and-apply function for one resource. Each
// run is scheduled only after the previous one finished, never on a fixed
// rate, so a stalled request cannot stack ticks behind itself. The same
// primitive backs both the message poll and the active-agent status poll.
type poller struct {
	interval time.Duration
	fn       func(ctx context.Context)
	poke     chan time.Duration
}

func newPoller(interval time.Duration, fn func(ctx context.Context)) *poller {
	return &poller{
		interval: interval,
		fn:       fn,
		poke:     make(chan time.Duration, 1),
	}
}

// run executes the poll loop until ctx is cancelled. The first run happens
// immediately. Both the interval timer and the settle timer behind pokeAfter
// live inside this loop, so cancelling ctx stops every pending timer of the
// session at once.
func (p *poller) run(ctx context.Context) {
	p.fn(ctx)

	t := time.NewTimer(p.interval)
	defer t.Stop()

	settle := time.NewTimer(p.interval)
	stopTimer(settle)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.poke:
			stopTimer(settle)
			settle.Reset(d)
			continue
		case <-settle.C:
			stopTimer(t)
		case <-t.C:
		}

		p.fn(ctx)
		t.Reset(p.interval)
	}
}

// pokeAfter schedules one extra out-of-band run after the given delay,
// coalescing with any poke already pending. Used for the settle poll that
// follows a send or a finished agent turn, closing the gap between the
// typing indicator vanishing and the committed message appearing.
func (p *poller) pokeAfter(d time.Duration) {
	select {
	case p.poke <- d:
	default:
	}
}

// stopTimer stops a timer and drains its channel if it already fired.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
