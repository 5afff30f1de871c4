// Package nlu runs the direct interpretation pipeline: tag the utterance,
// decode its BIO spans, normalize them and assemble the five-slot record.
package nlu

import (
	"context"
	"log/slog"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/nlu/bio"
	"github.com/nadzzz/homenlu/internal/nlu/classify"
	"github.com/nadzzz/homenlu/internal/nlu/normalize"
	"github.com/nadzzz/homenlu/internal/tagger"
)

// MultiSpanSeparator joins repeated DEVICE_TYPE and LOCATION spans.
const MultiSpanSeparator = ","

// Assemble builds the record for utterance from its decoded spans.
// DEVICE_TYPE and LOCATION keep every span; DEVICE_ID, ACTION and PARAMETER
// use the first one.
func Assemble(spans bio.Spans, utterance string) command.ParsedCommand {
	deviceType := spans.Joined(bio.DeviceType, MultiSpanSeparator)
	paramText := spans.First(bio.Parameter)

	outcome := classify.Classify(classify.Input{
		ActionText:          spans.First(bio.Action),
		ParameterText:       paramText,
		NormalizedParameter: normalize.Parameter(paramText),
		Utterance:           utterance,
		DeviceType:          deviceType,
	})
	if outcome.Action == "" && spans.First(bio.Action) != "" {
		slog.Warn("action span did not map to the taxonomy", "action", spans.First(bio.Action), "text", utterance)
	}

	return command.ParsedCommand{
		Action:     outcome.Action,
		DeviceType: deviceType,
		DeviceID:   normalize.DeviceID(spans.First(bio.DeviceID)),
		Location:   spans.Joined(bio.Location, MultiSpanSeparator),
		Parameter:  outcome.Parameter,
	}
}

// Understand tags text with t and assembles the result. Tagger failures and
// misaligned output are logged and yield the empty record; they are never
// returned to the caller.
func Understand(ctx context.Context, t tagger.Tagger, text string) command.ParsedCommand {
	if t == nil {
		slog.Error("no tagger configured")
		return command.Empty()
	}

	res, err := t.Tag(ctx, text)
	if err != nil {
		slog.Error("tagging failed", "tagger", t.Name(), "error", err)
		return command.Empty()
	}
	if res == nil {
		return command.Empty()
	}

	spans, err := bio.Extract(res.Tokens, res.Tags)
	if err != nil {
		slog.Warn("discarding misaligned tagger output", "tagger", t.Name(), "error", err)
		return command.Empty()
	}

	cmd := Assemble(spans, text)
	slog.Debug("direct interpretation",
		"tagger", t.Name(),
		"spans", spans.Count(),
		"action", cmd.Action,
		"actionable", cmd.Actionable(),
	)
	return cmd
}
