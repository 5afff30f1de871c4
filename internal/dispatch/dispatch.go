// Package dispatch implements the request handling engine.
//
// The dispatcher receives messages from transports, resolves the request's
// engine snapshot, runs the interpretation pipeline, renders the reply text
// and routes the result to target services. The sender always receives the
// response, even when routing fails.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nadzzz/homenlu/internal/engine"
	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/orchestrator"
	"github.com/nadzzz/homenlu/internal/transport"
)

// Resolver turns a settings payload into an engine snapshot.
// *engine.Registry implements it.
type Resolver interface {
	ResolveSettings(settings map[string]any) engine.Snapshot
}

// Dispatcher is the central request handler.
type Dispatcher struct {
	engines Resolver
	senders map[string]transport.Sender
	named   map[string]message.Target
}

// New creates a Dispatcher. Senders are keyed by their Name and used for
// routing results to targets.
func New(engines Resolver, senders ...transport.Sender) *Dispatcher {
	sm := make(map[string]transport.Sender, len(senders))
	for _, s := range senders {
		sm[s.Name()] = s
	}
	return &Dispatcher{engines: engines, senders: sm}
}

// WithTargets registers targets from configuration. A message target that
// names one of them and leaves Endpoint empty is completed from it.
func (d *Dispatcher) WithTargets(targets map[string]message.Target) *Dispatcher {
	d.named = targets
	return d
}

// resolveTarget fills in a bare service-name reference from the named targets.
func (d *Dispatcher) resolveTarget(t message.Target) message.Target {
	if t.Endpoint != "" {
		return t
	}
	named, ok := d.named[t.ServiceName]
	if !ok {
		return t
	}
	named.ServiceName = t.ServiceName
	if t.Protocol != "" {
		named.Protocol = t.Protocol
	}
	if t.Token != "" {
		named.Token = t.Token
	}
	return named
}

// resolveResponseMode determines the effective ResponseMode for a message.
func resolveResponseMode(mode message.ResponseMode) message.ResponseMode {
	if mode == message.ResponseModeNone {
		return mode
	}
	return message.ResponseModeText
}

// Handle processes a single message through the full pipeline.
// This function is passed as the transport.Handler to each transport.
// Interpretation problems are reported inside the result; the error return
// is reserved for the transport contract and is always nil.
func (d *Dispatcher) Handle(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	start := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = start
	}
	logger := slog.With("message_id", msg.ID, "source", msg.Source)

	result := &message.DispatchResult{MessageID: msg.ID}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		result.Error = "message has no text"
		logger.Warn("rejected empty message")
		return result, nil
	}
	result.Text = text

	snap := d.engines.ResolveSettings(msg.Settings)
	result.Engines = message.Engines{
		Tagger:    snap.TaggerName(),
		Retriever: snap.RetrieverName(),
		Threshold: snap.Threshold,
		TopK:      snap.TopK,
	}
	logger.Info("dispatch started", "tagger", result.Engines.Tagger, "retriever", result.Engines.Retriever)

	res := orchestrator.Run(ctx, snap, text)
	result.Result = res
	logger.Info("interpretation complete",
		"stage", res.Stage,
		"action", res.Command.Action,
		"error_tag", res.Error,
	)

	if resolveResponseMode(msg.Instruction.ResponseMode) == message.ResponseModeText {
		result.ResponseText = Reply(res.Command, res.Failed())
	}

	d.route(ctx, logger, msg.Instruction.Targets, result)

	logger.Info("dispatch complete", "duration", time.Since(start), "routed_to", len(result.RoutedTo))

	// The result is always returned to the sender via the transport that received the message.
	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, logger *slog.Logger, targets []message.Target, result *message.DispatchResult) {
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("marshalling result for routing", "error", err)
		result.Error = fmt.Sprintf("marshalling result: %v", err)
		return
	}

	for _, target := range targets {
		target = d.resolveTarget(target)
		if target.Endpoint == "" {
			logger.Warn("target has no endpoint", "target", target.ServiceName)
			continue
		}
		s, ok := d.senders[target.Protocol]
		if !ok {
			logger.Warn("no transport for target protocol", "protocol", target.Protocol, "target", target.ServiceName)
			continue
		}

		if err := s.Send(ctx, target, payload); err != nil {
			logger.Error("failed to send to target", "target", target.ServiceName, "error", err)
			continue
		}

		result.RoutedTo = append(result.RoutedTo, target.ServiceName)
		logger.Info("routed to target", "target", target.ServiceName)
	}
}
