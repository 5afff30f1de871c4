package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/nlu/bio"
	"github.com/nadzzz/homenlu/internal/tagger"
	"github.com/nadzzz/homenlu/internal/tagger/lexicon"
)

type stubTagger struct {
	res *tagger.Result
	err error
}

func (s *stubTagger) Name() string { return "stub" }
func (s *stubTagger) Tag(context.Context, string) (*tagger.Result, error) {
	return s.res, s.err
}
func (s *stubTagger) Close() error { return nil }

func TestUnderstand(t *testing.T) {
	tg := lexicon.New(config.LexiconConfig{})
	tests := []struct {
		text string
		want command.ParsedCommand
	}{
		{
			text: "空调温度调低两度",
			want: command.ParsedCommand{Action: command.ActionModify, DeviceType: "空调", DeviceID: "0", Parameter: "-2"},
		},
		{
			text: "打开三号卧室的灯",
			want: command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "3", Location: "卧室", Parameter: "0"},
		},
		{
			text: "拉上窗帘",
			want: command.ParsedCommand{Action: command.ActionCloseCurtain, DeviceType: "窗帘", DeviceID: "0", Parameter: "1"},
		},
		{
			text: "客厅和卧室的灯关掉",
			want: command.ParsedCommand{Action: command.ActionTurnOff, DeviceType: "灯", DeviceID: "0", Location: "客厅,卧室", Parameter: "0"},
		},
		{
			text: "关闭第二个灯",
			want: command.ParsedCommand{Action: command.ActionTurnOff, DeviceType: "灯", DeviceID: "1", Parameter: "0"},
		},
		{
			text: "太冷了",
			want: command.Empty(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Understand(context.Background(), tg, tt.text))
		})
	}
}

func TestUnderstandTaggerFailures(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, command.Empty(), Understand(ctx, nil, "打开灯"))
	assert.Equal(t, command.Empty(), Understand(ctx, &stubTagger{err: errors.New("model offline")}, "打开灯"))
	assert.Equal(t, command.Empty(), Understand(ctx, &stubTagger{}, "打开灯"))

	misaligned := &stubTagger{res: &tagger.Result{
		Tokens: []string{"打", "开", "灯"},
		Tags:   []string{"B-ACTION", "I-ACTION"},
	}}
	assert.Equal(t, command.Empty(), Understand(ctx, misaligned, "打开灯"))
}

func TestAssembleUsesFirstSpanForScalarSlots(t *testing.T) {
	spans := bio.Spans{
		bio.Action:     {"打开", "关闭"},
		bio.DeviceType: {"灯", "风扇"},
		bio.DeviceID:   {"2号", "5号"},
	}
	cmd := Assemble(spans, "打开2号灯关闭5号风扇")
	assert.Equal(t, command.ActionTurnOn, cmd.Action)
	assert.Equal(t, "灯,风扇", cmd.DeviceType)
	assert.Equal(t, "2", cmd.DeviceID)
}
