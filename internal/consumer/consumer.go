// Package consumer implements the generic consumer runtime (spec.md
// §4.8): the event-dispatch state machine that turns a scope/receive/send
// triple and an optional channel layer into a long-lived, group-aware
// handler object.
//
// Grounded on the teacher's event-loop shape: edge/cmd/orion-edge/main.go
// races a heartbeat goroutine against a command-handling goroutine behind
// a single signal.NotifyContext, the same "two concurrent event sources,
// one cancellation" structure this package's dispatch loop generalizes
// into a reusable per-connection runtime. Dispatch-table construction
// (reflect over exported methods once, never at call time) mirrors
// spec.md §9's explicit redesign flag away from dynamic getattr-style
// lookup.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/relaybus/channels/internal/consumerrors"
	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/naming"
)

// ReceiveFunc is the ASGI-shaped inbound event source: the framework's
// receive callable.
type ReceiveFunc func(ctx context.Context) (layer.Message, error)

// SendFunc is the ASGI-shaped outbound event sink: the framework's send
// callable.
type SendFunc func(ctx context.Context, event layer.Message) error

// Scope describes the connection, mirroring the ASGI scope mapping
// (spec.md §4.9): at least Type/Path; the rest are populated as available.
type Scope struct {
	Type        string
	Path        string
	PathParams  map[string]string
	QueryString []byte
	Headers     [][2][]byte
	User        any
	Cookies     map[string]string
}

// Config holds the construction-time parameters for a Consumer: which
// groups to auto-join and which channel layer to join them on.
type Config struct {
	// Groups are joined before the first event is dispatched and left
	// before the consumer terminates, even on abnormal exit.
	Groups []string
	// Layer is required whenever Groups is non-empty (spec.md §4.8
	// "layer-required"). May also be set with no Groups to give the
	// consumer its own addressable channel name.
	Layer layer.Layer
	// ChannelPrefix overrides the default "specific" channel-name prefix.
	ChannelPrefix string
	// GroupLeaveTimeout bounds the best-effort group_discard cleanup run
	// on exit. Defaults to 5s.
	GroupLeaveTimeout time.Duration
	// Logger receives the consumer's log lines (failed group cleanup).
	// Defaults to log.Default() when nil.
	Logger *log.Logger
}

// Consumer is the event-dispatching object bound to one connection.
// Handler methods are found by reflecting over handler once at
// construction; every handler method must have the signature
// func(layer.Message) error to be eligible for dispatch — this is the
// uniform shape every dotted message type (including the generated
// websocket.* events) routes through.
type Consumer struct {
	Scope Scope

	handler  any
	dispatch map[string]reflect.Value

	receive ReceiveFunc
	send    SendFunc

	chLayer           layer.Layer
	groups            []string
	channelPrefix     string
	groupLeaveTimeout time.Duration
	logger            *log.Logger

	mu          sync.Mutex
	channelName string

	ctx context.Context
}

// New builds a Consumer around handler, reflecting its exported methods
// into a dispatch table once. Returns consumerrors.ErrLayerRequired if
// cfg.Groups is non-empty but cfg.Layer is nil.
func New(handler any, scope Scope, receive ReceiveFunc, send SendFunc, cfg Config) (*Consumer, error) {
	if len(cfg.Groups) > 0 && cfg.Layer == nil {
		return nil, consumerrors.ErrLayerRequired
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "specific"
	}
	timeout := cfg.GroupLeaveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Consumer{
		Scope:             scope,
		handler:           handler,
		receive:           receive,
		send:              send,
		chLayer:           cfg.Layer,
		groups:            cfg.Groups,
		channelPrefix:     prefix,
		groupLeaveTimeout: timeout,
		logger:            logger,
		ctx:               context.Background(),
	}
	c.dispatch = buildDispatchTable(handler)
	return c, nil
}

// buildDispatchTable reflects over handler's exported methods once,
// keeping only those matching func(layer.Message) error — the shape every
// dispatchable message-type handler has. Helper methods like Accept/Send
// naturally fall outside this shape and are never added.
func buildDispatchTable(handler any) map[string]reflect.Value {
	v := reflect.ValueOf(handler)
	t := v.Type()
	messageType := reflect.TypeOf(layer.Message(nil))
	errorType := reflect.TypeOf((*error)(nil)).Elem()

	table := make(map[string]reflect.Value, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if strings.HasPrefix(m.Name, "_") {
			continue
		}
		bound := v.Method(i)
		bt := bound.Type()
		if bt.NumIn() != 1 || bt.NumOut() != 1 {
			continue
		}
		if bt.In(0) != messageType || bt.Out(0) != errorType {
			continue
		}
		table[m.Name] = bound
	}
	return table
}

// toMethodName converts a dotted message type into the Go method name the
// dispatch table is keyed by: "." becomes "_" and the first letter is
// capitalized so the target is an exported method, e.g.
// "websocket.connect" -> "Websocket_connect", "chat.message" ->
// "Chat_message".
func toMethodName(typ string) string {
	underscored := strings.ReplaceAll(typ, ".", "_")
	if underscored == "" {
		return underscored
	}
	return strings.ToUpper(underscored[:1]) + underscored[1:]
}

// Handler returns the value passed to New, for specializations that need
// to check whether it implements an optional hook interface.
func (c *Consumer) Handler() any { return c.handler }

// Context returns the context active for the lifetime of the current
// Run call, usable by handler methods that need to suspend (the
// scheduling model is single-threaded cooperative per consumer, so one
// context for the whole dispatch loop is sufficient).
func (c *Consumer) Context() context.Context { return c.ctx }

// ChannelName returns the per-connection channel name assigned on Run's
// ACTIVE transition; empty before that or if no layer is configured.
func (c *Consumer) ChannelName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelName
}

// Layer returns the channel layer this consumer was configured with, or
// nil.
func (c *Consumer) Layer() layer.Layer { return c.chLayer }

// Logger returns the configured logger, never nil once New has run.
func (c *Consumer) Logger() *log.Logger { return c.logger }

// Send emits event upstream via the ASGI-shaped send callable.
func (c *Consumer) Send(ctx context.Context, event layer.Message) error {
	return c.send(ctx, event)
}

type sourceResult struct {
	event layer.Message
	err   error
}

// Run drives the INIT -> ACTIVE <-> DISPATCH -> CLOSED state machine:
// it attaches to the channel layer (if configured), joins every declared
// group, then races upstream events against layer events until a handler
// raises consumerrors.StopConsumer, ctx is canceled, or an unhandled
// error occurs. Declared groups are always left on exit, even on
// abnormal return.
func (c *Consumer) Run(ctx context.Context) error {
	c.ctx = ctx

	if c.chLayer != nil {
		name, err := c.chLayer.NewChannel(ctx, c.channelPrefix)
		if err != nil {
			return fmt.Errorf("consumer: new channel: %w", err)
		}
		c.mu.Lock()
		c.channelName = name
		c.mu.Unlock()
	}
	defer c.leaveGroups()
	if c.chLayer != nil {
		for _, g := range c.groups {
			if err := c.chLayer.GroupAdd(ctx, g, c.ChannelName()); err != nil {
				return fmt.Errorf("consumer: group_add %q: %w", g, err)
			}
		}
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstream := make(chan sourceResult)
	go c.pumpUpstream(dispatchCtx, upstream)

	var fromLayer chan sourceResult
	if c.chLayer != nil {
		fromLayer = make(chan sourceResult)
		go c.pumpLayer(dispatchCtx, fromLayer)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-upstream:
			if err := c.handle(res); err != nil {
				return c.exitError(err)
			}
		case res := <-fromLayer:
			if err := c.handle(res); err != nil {
				return c.exitError(err)
			}
		}
	}
}

// pumpUpstream repeatedly calls receive and forwards each result,
// re-issuing immediately so the dispatch loop always has a fresh read
// in flight on this source — the "race two awaitable reads" idiom
// translated to a persistent goroutine instead of a task re-spawned per
// iteration.
func (c *Consumer) pumpUpstream(ctx context.Context, out chan<- sourceResult) {
	for {
		event, err := c.receive(ctx)
		select {
		case out <- sourceResult{event, err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Consumer) pumpLayer(ctx context.Context, out chan<- sourceResult) {
	for {
		c.mu.Lock()
		name := c.channelName
		c.mu.Unlock()
		event, err := c.chLayer.Receive(ctx, name)
		select {
		case out <- sourceResult{event, err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Consumer) handle(res sourceResult) error {
	if res.err != nil {
		return res.err
	}
	return c.dispatchEvent(res.event)
}

func (c *Consumer) dispatchEvent(event layer.Message) error {
	typ := event.TypeOf()
	if !naming.ValidType(typ) {
		return consumerrors.ErrBadType
	}
	method, ok := c.dispatch[toMethodName(typ)]
	if !ok {
		return consumerrors.ErrNoHandler
	}
	results := method.Call([]reflect.Value{reflect.ValueOf(event)})
	errVal := results[0].Interface()
	if errVal == nil {
		return nil
	}
	return errVal.(error)
}

func (c *Consumer) exitError(err error) error {
	var stop consumerrors.StopConsumer
	if errors.As(err, &stop) {
		return nil
	}
	return err
}

func (c *Consumer) leaveGroups() {
	if c.chLayer == nil || len(c.groups) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.groupLeaveTimeout)
	defer cancel()
	name := c.ChannelName()
	if name == "" {
		return
	}
	for _, g := range c.groups {
		if err := c.chLayer.GroupDiscard(ctx, g, name); err != nil {
			c.logger.Printf("WARN: consumer: group_discard %q for channel %q failed: %v", g, name, err)
		}
	}
}
