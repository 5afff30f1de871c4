// Package orchestrator runs the full interpretation: direct extraction first,
// then knowledge-base retrieval when the direct record is not actionable.
//
//	DIRECT ──actionable──▶ done
//	   │
//	   ▼
//	RETRIEVE ──no retriever / error──▶ FAILED(retrieval_unavailable)
//	   │      ──no matches──────────▶ FAILED(no_match)
//	   │      ──best score > limit──▶ FAILED(below_threshold)
//	   ├──predefined record──▶ MERGE_PREDEFINED ──▶ done
//	   ▼
//	REINTERPRET ──not actionable──▶ FAILED(reinterpretation_insufficient)
//	   │
//	   ▼
//	MERGE_REINTERPRETED ──▶ done
//
// Run never returns an error and never panics on collaborator failures;
// every outcome is a Result.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/engine"
	"github.com/nadzzz/homenlu/internal/nlu"
	"github.com/nadzzz/homenlu/internal/retrieval"
	"github.com/nadzzz/homenlu/internal/tagger"
)

// Stage is the state the run finished in.
type Stage string

const (
	StageDirect             Stage = "DIRECT"
	StageMergePredefined    Stage = "MERGE_PREDEFINED"
	StageMergeReinterpreted Stage = "MERGE_REINTERPRETED"
	StageFailed             Stage = "FAILED"
)

// ErrorTag tells failed runs apart without parsing messages.
type ErrorTag string

const (
	ErrNoMatch                      ErrorTag = "no_match"
	ErrBelowThreshold               ErrorTag = "below_threshold"
	ErrRetrievalUnavailable         ErrorTag = "retrieval_unavailable"
	ErrReinterpretationInsufficient ErrorTag = "reinterpretation_insufficient"
)

// Result is the outcome of one run.
type Result struct {
	Command  command.ParsedCommand
	Stage    Stage
	Error    ErrorTag
	Original command.ParsedCommand
	// Retrieved is the best knowledge-base match, when retrieval ran and
	// returned anything.
	Retrieved *retrieval.Match
}

// Failed reports whether the run ended in FAILED.
func (r *Result) Failed() bool { return r.Stage == StageFailed }

// MarshalJSON emits the five slots at the top level (all null on failure)
// plus error, original_nlu and retrieval details when present.
func (r *Result) MarshalJSON() ([]byte, error) {
	var slots json.RawMessage = command.NullJSON()
	if !r.Failed() {
		b, err := json.Marshal(r.Command)
		if err != nil {
			return nil, err
		}
		slots = b
	}

	out := make(map[string]json.RawMessage, 9)
	if err := json.Unmarshal(slots, &out); err != nil {
		return nil, fmt.Errorf("flattening command: %w", err)
	}
	put := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[key] = b
		return nil
	}
	if err := put("stage", r.Stage); err != nil {
		return nil, err
	}
	if r.Failed() {
		if err := put("error", r.Error); err != nil {
			return nil, err
		}
		if err := put("original_nlu", r.Original); err != nil {
			return nil, err
		}
	}
	if r.Retrieved != nil {
		if err := put("retrieved_command", r.Retrieved.CommandText); err != nil {
			return nil, err
		}
		if err := put("retrieval_score", r.Retrieved.Score); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the shape written by MarshalJSON, so clients of the
// transports can decode results.
func (r *Result) UnmarshalJSON(data []byte) error {
	var cmd command.ParsedCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	var extra struct {
		Stage     Stage                  `json:"stage"`
		Error     ErrorTag               `json:"error"`
		Original  *command.ParsedCommand `json:"original_nlu"`
		Retrieved *string                `json:"retrieved_command"`
		Score     float64                `json:"retrieval_score"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}

	out := Result{Command: cmd, Stage: extra.Stage, Error: extra.Error, Original: cmd}
	if out.Failed() {
		out.Command = command.Empty()
		out.Original = command.Empty()
	}
	if extra.Original != nil {
		out.Original = *extra.Original
	}
	if extra.Retrieved != nil {
		out.Retrieved = &retrieval.Match{CommandText: *extra.Retrieved, Score: extra.Score}
	}
	*r = out
	return nil
}

// Run interprets text with the engines of snap.
func Run(ctx context.Context, snap engine.Snapshot, text string) *Result {
	log := slog.With("tagger", snap.TaggerName(), "retriever", snap.RetrieverName())

	original := understand(ctx, snap.Tagger, text)
	if original.Actionable() {
		log.Debug("direct extraction actionable", "stage", StageDirect)
		return &Result{Command: original, Stage: StageDirect, Original: original}
	}

	fail := func(tag ErrorTag, best *retrieval.Match) *Result {
		log.Info("interpretation failed", "error", tag, "text", text)
		return &Result{
			Command:   command.Empty(),
			Stage:     StageFailed,
			Error:     tag,
			Original:  original,
			Retrieved: best,
		}
	}

	if snap.Retriever == nil {
		return fail(ErrRetrievalUnavailable, nil)
	}
	topK := snap.TopK
	if topK <= 0 {
		topK = engine.DefaultTopK
	}
	matches, err := search(ctx, snap.Retriever, text, topK)
	if err != nil {
		log.Warn("retrieval failed", "error", err)
		return fail(ErrRetrievalUnavailable, nil)
	}
	best, ok := Best(matches)
	if !ok {
		return fail(ErrNoMatch, nil)
	}
	log.Debug("best retrieval match", "text", best.CommandText, "score", best.Score, "threshold", snap.Threshold)
	if !(best.Score <= snap.Threshold) {
		return fail(ErrBelowThreshold, &best)
	}

	if p := best.Record.Predefined; p != nil {
		base := *p
		if (base.Action == command.ActionTurnOn || base.Action == command.ActionTurnOff) && base.Parameter == "" {
			base.Parameter = "0"
		}
		merged := Merge(base, original, false)
		log.Debug("using predefined record", "stage", StageMergePredefined)
		return &Result{Command: merged, Stage: StageMergePredefined, Original: original, Retrieved: &best}
	}

	reinterpreted := understand(ctx, snap.Tagger, best.CommandText)
	if !reinterpreted.Actionable() {
		return fail(ErrReinterpretationInsufficient, &best)
	}
	merged := Merge(reinterpreted, original, true)
	log.Debug("using reinterpreted standard command", "stage", StageMergeReinterpreted)
	return &Result{Command: merged, Stage: StageMergeReinterpreted, Original: original, Retrieved: &best}
}

// Best picks the match with the minimum score. The first of equal scores
// wins. NaN scores are never picked; with no other match there is no best.
func Best(matches []retrieval.Match) (retrieval.Match, bool) {
	var (
		best  retrieval.Match
		found bool
	)
	for _, m := range matches {
		if math.IsNaN(m.Score) {
			continue
		}
		if !found || m.Score < best.Score {
			best, found = m, true
		}
	}
	return best, found
}

// Merge overlays slots from the original extraction onto base without ever
// replacing a slot base already has. DEVICE_TYPE is only carried over when
// withDeviceType is set.
func Merge(base, original command.ParsedCommand, withDeviceType bool) command.ParsedCommand {
	out := base
	if out.Location == "" {
		out.Location = original.Location
	}
	if !out.HasDeviceID() && original.HasDeviceID() {
		out.DeviceID = original.DeviceID
	}
	if out.DeviceID == "" {
		out.DeviceID = command.DefaultDeviceID
	}
	if withDeviceType && out.DeviceType == "" {
		out.DeviceType = original.DeviceType
	}
	return out
}

func understand(ctx context.Context, t tagger.Tagger, text string) (cmd command.ParsedCommand) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tagger panicked", "panic", r)
			cmd = command.Empty()
		}
	}()
	return nlu.Understand(ctx, t, text)
}

func search(ctx context.Context, r retrieval.Retriever, text string, topK int) (matches []retrieval.Match, err error) {
	defer func() {
		if p := recover(); p != nil {
			matches, err = nil, fmt.Errorf("%w: retriever panicked: %v", retrieval.ErrUnavailable, p)
		}
	}()
	return r.Search(ctx, text, topK)
}
