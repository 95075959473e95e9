// Package notify delivers pipeline events to chat platforms, webhooks and
// event streams. Delivery is best effort: failures are logged, never
// returned to the pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind categorizes events.
type Kind string

const (
	AgentCompleted    Kind = "agent_completed"
	PipelineCompleted Kind = "pipeline_completed"
	Message           Kind = "message"
)

// Event is the payload every sink receives. Webhook and stream sinks send
// it as JSON; chat sinks render Text.
type Event struct {
	Event     Kind      `json:"event"`
	StoryID   string    `json:"storyId,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Result    string    `json:"result,omitempty"`
	Tokens    int       `json:"tokens"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

const summaryLimit = 500

// Text renders the event for chat platforms.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Event {
	case AgentCompleted:
		fmt.Fprintf(&b, "EqhoAIOS: @%s finished %s (%d tokens)", e.Agent, e.StoryID, e.Tokens)
		if r := truncate(strings.TrimSpace(e.Result), summaryLimit); r != "" {
			b.WriteString("\n\n" + r)
		}
	case PipelineCompleted:
		status := "succeeded"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "EqhoAIOS pipeline %s\n\nStory: %s\nPhase: %s\nTokens: %d", status, e.StoryID, e.Phase, e.Tokens)
		if e.Result != "" {
			b.WriteString("\n" + e.Result)
		}
	default:
		b.WriteString(e.Result)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Sink is one delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to every registered sink.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// DefaultTimeout bounds one sink delivery.
const DefaultTimeout = 10 * time.Second

// NewDispatcher creates a dispatcher. A non-positive timeout uses
// DefaultTimeout.
func NewDispatcher(timeout time.Duration, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: logger}
}

// Register adds a sink.
func (d *Dispatcher) Register(s Sink) {
	d.sinks = append(d.sinks, s)
	d.logger.Debug("registered notification sink", zap.String("sink", s.Name()))
}

// Sinks returns the registered sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Broadcast delivers ev to every sink concurrently, each under its own
// timeout, and returns the joined delivery errors.
func (d *Dispatcher) Broadcast(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	errs := make([]error, len(d.sinks))
	var wg sync.WaitGroup
	for i, s := range d.sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := s.Deliver(sctx, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Notify is Broadcast with errors logged and swallowed.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if len(d.sinks) == 0 {
		return
	}
	if err := d.Broadcast(ctx, ev); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("event", string(ev.Event)),
			zap.String("story", ev.StoryID),
			zap.Error(err))
	}
}

// Close releases sinks that hold connections.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
