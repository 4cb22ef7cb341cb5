package aggregator

import (
	"context"
	"hash/fnv"

	"github.com/sawpanic/signalpipe/internal/candle"
)

// CloseEvent is delivered to a CloseHandler exactly once per committed
// candle, per spec.md §4.1.
type CloseEvent struct {
	Key     candle.Key
	Candle  candle.Candle
	Window  *candle.Window // read-only snapshot taken at commit time
}

// CloseHandler processes a single CloseEvent. Handlers for distinct keys
// may run concurrently; handlers for the same key are always invoked in
// OpenTime order because every event for a key lands on the same worker's
// input channel (spec.md §4.1 "Ordering", §9 "bounded worker pool keyed
// by (symbol, tf)").
type CloseHandler func(ctx context.Context, ev CloseEvent)

// dispatcher fans close events out across a fixed pool of workers, routing
// every (symbol, tf) key to the same worker so its events stay ordered.
type dispatcher struct {
	chans   []chan CloseEvent
	handler CloseHandler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

const defaultQueueDepth = 64

func newDispatcher(workers int, handler CloseHandler) *dispatcher {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		chans:   make([]chan CloseEvent, workers),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for i := range d.chans {
		d.chans[i] = make(chan CloseEvent, defaultQueueDepth)
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	var workerDone = make(chan struct{}, len(d.chans))
	for i := range d.chans {
		go func(ch chan CloseEvent) {
			defer func() { workerDone <- struct{}{} }()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					d.handler(d.ctx, ev)
				case <-d.ctx.Done():
					// Drain remaining buffered events before exiting so a
					// shutdown doesn't silently drop already-accepted work.
					for {
						select {
						case ev, ok := <-ch:
							if !ok {
								return
							}
							d.handler(d.ctx, ev)
						default:
							return
						}
					}
				}
			}
		}(d.chans[i])
	}
	for range d.chans {
		<-workerDone
	}
}

func (d *dispatcher) dispatch(ev CloseEvent) {
	idx := workerIndex(ev.Key, len(d.chans))
	select {
	case d.chans[idx] <- ev:
	case <-d.ctx.Done():
	}
}

func (d *dispatcher) stop() {
	d.cancel()
	for _, ch := range d.chans {
		close(ch)
	}
	<-d.done
}

func workerIndex(key candle.Key, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32()) % n
}
