// Package dispatch routes inbound messages to registered handlers. Transport
// read loops enqueue raw frames; a worker pool decodes and executes them so a
// slow handler never stalls a socket.
package dispatch

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"gamehub/server/internal/metrics"
	"gamehub/server/internal/protocol"
)

// Session is the surface a handler sees of the connection a message arrived
// on. Implemented by transport sessions and by test fakes.
type Session interface {
	ID() string
	SendFrame(msgID string, body []byte) error
	SendDatagram(msgID string, body []byte) error

	// Violate records a protocol violation and reports the running count.
	// The transport kills sessions that accumulate too many.
	Violate(reason string) int
}

// Request is one inbound message awaiting dispatch.
type Request struct {
	Session  Session
	MsgID    string
	Body     []byte
	Datagram bool // arrived on the datagram channel
}

// HandlerFunc consumes one decoded request. The context is canceled on
// dispatcher shutdown.
type HandlerFunc func(ctx context.Context, req Request) error

// Dispatcher owns the handler registry and the worker pool.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	workers int
	queue   chan Request
	met     *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// queueDepth bounds inbound backlog. Past it, new messages are dropped
// rather than blocking the read loops.
const queueDepth = 1024

// New builds a stopped dispatcher. workers ≤ 0 selects GOMAXPROCS.
func New(workers int, met *metrics.Metrics) *Dispatcher {
	max := runtime.GOMAXPROCS(0)
	if workers <= 0 || workers > max {
		workers = max
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		workers:  workers,
		queue:    make(chan Request, queueDepth),
		met:      met,
	}
}

// Handle registers a raw handler for a message id. Last registration wins.
func (d *Dispatcher) Handle(msgID string, fn HandlerFunc) {
	d.mu.Lock()
	d.handlers[msgID] = fn
	d.mu.Unlock()
}

// Register wires a typed handler: the wrapper decodes the body into T and
// absorbs decode failures without killing the session.
func Register[T any](d *Dispatcher, msgID string, fn func(ctx context.Context, s Session, body T) error) {
	d.Handle(msgID, func(ctx context.Context, req Request) error {
		var body T
		if len(req.Body) > 0 {
			if err := protocol.DecodeBody(req.Body, &body); err != nil {
				d.met.DecodeFailures.Inc()
				slog.Warn("message body decode failed", "msg_id", msgID, "session_id", req.Session.ID(), "err", err)
				return nil
			}
		}
		return fn(ctx, req.Session, body)
	})
}

// Enqueue hands a message to the worker pool. When the queue is full the
// message is dropped so the caller's read loop keeps draining its socket.
func (d *Dispatcher) Enqueue(req Request) bool {
	select {
	case d.queue <- req:
		return true
	default:
		slog.Warn("dispatch queue full, dropping message", "msg_id", req.MsgID, "session_id", req.Session.ID())
		if req.Datagram {
			d.met.DatagramsDropped.Inc()
		}
		return false
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	slog.Info("dispatcher started", "workers", d.workers)
}

// Stop cancels in-flight handler contexts and waits for the workers.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for req := range d.queue {
		if ctx.Err() != nil {
			return
		}
		d.serve(ctx, req)
	}
}

// serve runs one request. Unknown ids and handler failures are logged and
// counted; the session always survives them.
func (d *Dispatcher) serve(ctx context.Context, req Request) {
	d.mu.RLock()
	fn, ok := d.handlers[req.MsgID]
	d.mu.RUnlock()
	if !ok {
		d.met.UnknownMessages.Inc()
		slog.Warn("unknown message id", "msg_id", req.MsgID, "session_id", req.Session.ID())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.met.HandlerFailures.Inc()
			slog.Error("handler panic", "msg_id", req.MsgID, "session_id", req.Session.ID(), "panic", r)
		}
	}()
	if err := fn(ctx, req); err != nil {
		d.met.HandlerFailures.Inc()
		slog.Error("handler failed", "msg_id", req.MsgID, "session_id", req.Session.ID(), "err", err)
	}
}
