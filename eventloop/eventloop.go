// Package eventloop provides an event loop that runs handlers registered per event type.
//
// Events may be added from any goroutine; handlers always run on the goroutine that calls
// Run or Tick, one event at a time. This makes the event loop a convenient owner for state
// that must not be shared, such as a consensus.State.
package eventloop

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

type ticker struct {
	interval time.Duration
	callback func(time.Time) any
	cancel   context.CancelFunc
}

type startTickerEvent struct {
	tickerID int
}

// EventHandler processes an event.
type EventHandler func(event any)

type handler struct {
	callback EventHandler
	opts     handlerOpts
}

type handlerOpts struct {
	priority bool
}

// HandlerOption sets configuration options for event handlers.
type HandlerOption func(*handlerOpts)

// Prioritize instructs the event loop to run the handler before handlers that do not have priority.
// It should only be used if you must look at an event before other handlers get to look at it.
func Prioritize() HandlerOption {
	return func(ho *handlerOpts) {
		ho.priority = true
	}
}

// EventLoop accepts events of any type and executes registered event handlers.
type EventLoop struct {
	eventQ  queue[any]
	dropped atomic.Uint64

	mut sync.Mutex // protects the following:

	ctx context.Context // set by Run

	handlers map[reflect.Type][]handler

	tickers  map[int]*ticker
	tickerID int
}

// New returns a new event loop with the requested buffer size.
// When the buffer is full, the oldest event is dropped.
func New(bufferSize uint) *EventLoop {
	return &EventLoop{
		ctx:      context.Background(),
		eventQ:   newQueue[any](bufferSize),
		handlers: make(map[reflect.Type][]handler),
		tickers:  make(map[int]*ticker),
	}
}

// RegisterHandler registers the given event handler for the type of eventType with the given handler options, if any.
// It returns an id that can be used to unregister the handler.
func (el *EventLoop) RegisterHandler(eventType any, callback EventHandler, opts ...HandlerOption) int {
	h := handler{callback: callback}
	for _, opt := range opts {
		opt(&h.opts)
	}

	el.mut.Lock()
	defer el.mut.Unlock()

	t := reflect.TypeOf(eventType)
	handlers := el.handlers[t]

	// search for a free slot for the handler
	i := 0
	for ; i < len(handlers); i++ {
		if handlers[i].callback == nil {
			break
		}
	}

	// no free slots; have to grow the list
	if i == len(handlers) {
		handlers = append(handlers, h)
	} else {
		handlers[i] = h
	}
	el.handlers[t] = handlers
	return i
}

// UnregisterHandler unregisters the handler for the given event type with the given id.
func (el *EventLoop) UnregisterHandler(eventType any, id int) {
	el.mut.Lock()
	defer el.mut.Unlock()

	handlers := el.handlers[reflect.TypeOf(eventType)]
	if id >= 0 && id < len(handlers) {
		handlers[id].callback = nil
	}
}

// AddEvent adds an event to the event queue. Nil events are ignored.
func (el *EventLoop) AddEvent(event any) {
	if event == nil {
		return
	}
	if el.eventQ.push(event) {
		el.dropped.Add(1)
	}
}

// Dropped returns the number of events that were dropped because the queue was full.
func (el *EventLoop) Dropped() uint64 {
	return el.dropped.Load()
}

// Context returns the context associated with the event loop.
// Usually, this context will be the one passed to Run.
// However, if Tick is used instead of Run, Context will return
// the last context that was passed to Tick.
// If neither Run nor Tick have been called,
// Context returns context.Background.
func (el *EventLoop) Context() context.Context {
	el.mut.Lock()
	defer el.mut.Unlock()

	return el.ctx
}

func (el *EventLoop) setContext(ctx context.Context) {
	el.mut.Lock()
	defer el.mut.Unlock()

	el.ctx = ctx
}

// Run runs the event loop until the context is canceled.
// Events that are queued when the context is canceled are processed before Run returns.
func (el *EventLoop) Run(ctx context.Context) {
	el.setContext(ctx)

loop:
	for {
		event, ok := el.eventQ.pop()
		if !ok {
			select {
			case <-el.eventQ.ready():
				continue loop
			case <-ctx.Done():
				break loop
			}
		}
		if e, ok := event.(startTickerEvent); ok {
			el.startTicker(e.tickerID)
			continue
		}
		el.processEvent(event)
	}

	// handle the events that were in the queue when we got canceled
	l := el.eventQ.len()
	for i := 0; i < l; i++ {
		event, ok := el.eventQ.pop()
		if !ok {
			break
		}
		if _, ok := event.(startTickerEvent); ok {
			continue
		}
		el.processEvent(event)
	}
}

// Tick processes a single event. Returns true if an event was handled.
func (el *EventLoop) Tick(ctx context.Context) bool {
	el.setContext(ctx)

	event, ok := el.eventQ.pop()
	if !ok {
		return false
	}

	if e, ok := event.(startTickerEvent); ok {
		el.startTicker(e.tickerID)
	} else {
		el.processEvent(event)
	}
	return true
}

// processEvent dispatches the event to the handlers registered for its type.
func (el *EventLoop) processEvent(event any) {
	// Copy the handlers so that they can be executed after unlocking the mutex.
	// Handlers may register or unregister other handlers.
	var priorityList, handlerList []EventHandler

	el.mut.Lock()
	for _, h := range el.handlers[reflect.TypeOf(event)] {
		if h.callback == nil {
			continue
		}
		if h.opts.priority {
			priorityList = append(priorityList, h.callback)
		} else {
			handlerList = append(handlerList, h.callback)
		}
	}
	el.mut.Unlock()

	for _, h := range priorityList {
		h(event)
	}
	for _, h := range handlerList {
		h(event)
	}
}

// AddTicker adds a ticker with the specified interval and returns the ticker id.
// The ticker will send the event returned by the callback on the event loop at regular intervals.
// The returned ticker id can be used to remove the ticker with RemoveTicker.
// The ticker will not be started before the event loop is running.
func (el *EventLoop) AddTicker(interval time.Duration, callback func(tick time.Time) (event any)) int {
	el.mut.Lock()

	id := el.tickerID
	el.tickerID++

	el.tickers[id] = &ticker{
		interval: interval,
		callback: callback,
		cancel:   func() {}, // initialized to empty function to avoid nil
	}

	el.mut.Unlock()

	// We want the ticker to inherit the context of the event loop,
	// so we need to start the ticker from the run loop.
	el.AddEvent(startTickerEvent{id})

	return id
}

// RemoveTicker removes the ticker with the specified id.
// If the ticker was removed, RemoveTicker will return true.
// If the ticker does not exist, false will be returned instead.
func (el *EventLoop) RemoveTicker(id int) bool {
	el.mut.Lock()
	defer el.mut.Unlock()

	ticker, ok := el.tickers[id]
	if !ok {
		return false
	}
	ticker.cancel()
	delete(el.tickers, id)
	return true
}

func (el *EventLoop) startTicker(id int) {
	// lock the mutex such that the ticker cannot be removed until we have started it
	el.mut.Lock()
	defer el.mut.Unlock()

	ticker, ok := el.tickers[id]
	if !ok {
		return
	}
	var ctx context.Context
	ctx, ticker.cancel = context.WithCancel(el.ctx)
	go el.runTicker(ctx, ticker)
}

func (el *EventLoop) runTicker(ctx context.Context, ticker *ticker) {
	t := time.NewTicker(ticker.interval)
	defer t.Stop()

	if ctx.Err() != nil {
		return
	}

	// send the first event immediately
	el.AddEvent(ticker.callback(time.Now()))

	for {
		select {
		case tick := <-t.C:
			el.AddEvent(ticker.callback(tick))
		case <-ctx.Done():
			return
		}
	}
}
