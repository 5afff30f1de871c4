package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/engine"
	"github.com/nadzzz/homenlu/internal/retrieval"
	"github.com/nadzzz/homenlu/internal/tagger"
	"github.com/nadzzz/homenlu/internal/tagger/lexicon"
)

type stubRetriever struct {
	matches []retrieval.Match
	err     error
	panics  bool

	calls int
	topK  int
}

func (s *stubRetriever) Name() string { return "stub" }
func (s *stubRetriever) Search(_ context.Context, _ string, topK int) ([]retrieval.Match, error) {
	s.calls++
	s.topK = topK
	if s.panics {
		panic("index corrupted")
	}
	return s.matches, s.err
}
func (s *stubRetriever) Close() error { return nil }

type panickyTagger struct{}

func (panickyTagger) Name() string { return "panicky" }
func (panickyTagger) Tag(context.Context, string) (*tagger.Result, error) {
	panic("model crashed")
}
func (panickyTagger) Close() error { return nil }

// silentTagger finds no entities, so nothing it reads is actionable.
type silentTagger struct{}

func (silentTagger) Name() string { return "silent" }
func (silentTagger) Tag(context.Context, string) (*tagger.Result, error) {
	return &tagger.Result{}, nil
}
func (silentTagger) Close() error { return nil }

// fixedRetriever returns the same matches for every query and keeps no state.
type fixedRetriever struct {
	name    string
	matches []retrieval.Match
}

func (f *fixedRetriever) Name() string { return f.name }
func (f *fixedRetriever) Search(context.Context, string, int) ([]retrieval.Match, error) {
	return f.matches, nil
}
func (f *fixedRetriever) Close() error { return nil }

func snapshot(r retrieval.Retriever) engine.Snapshot {
	return engine.Snapshot{
		Tagger:    lexicon.New(config.LexiconConfig{}),
		Retriever: r,
		Threshold: 250,
		TopK:      2,
	}
}

func predefined(text string, score float64, cmd command.ParsedCommand) retrieval.Match {
	return retrieval.Match{
		CommandText: text,
		Score:       score,
		Record:      retrieval.KnowledgeRecord{Text: text, Predefined: &cmd},
	}
}

func standard(text string, score float64) retrieval.Match {
	return retrieval.Match{CommandText: text, Score: score, Record: retrieval.KnowledgeRecord{Text: text}}
}

func TestRunDirect(t *testing.T) {
	r := &stubRetriever{}
	res := Run(context.Background(), snapshot(r), "打开客厅的灯")

	assert.Equal(t, StageDirect, res.Stage)
	assert.False(t, res.Failed())
	assert.Equal(t, command.ParsedCommand{
		Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "0", Location: "客厅", Parameter: "0",
	}, res.Command)
	assert.Zero(t, r.calls, "actionable input must not hit retrieval")
	assert.Nil(t, res.Retrieved)
}

func TestRunMergePredefined(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{
		predefined("我好热", 120, command.ParsedCommand{
			Action: command.ActionModify, DeviceType: "空调", DeviceID: "0", Parameter: "-1",
		}),
	}}
	res := Run(context.Background(), snapshot(r), "卧室好热")

	require.Equal(t, StageMergePredefined, res.Stage)
	assert.Equal(t, command.ParsedCommand{
		Action: command.ActionModify, DeviceType: "空调", DeviceID: "0", Location: "卧室", Parameter: "-1",
	}, res.Command)
	assert.Equal(t, "卧室", res.Original.Location)
	require.NotNil(t, res.Retrieved)
	assert.Equal(t, 120.0, res.Retrieved.Score)
	assert.Equal(t, 2, r.topK)
}

func TestRunPredefinedSwitchGetsParameter(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{
		predefined("屋里太暗了", 10, command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "0"}),
	}}
	res := Run(context.Background(), snapshot(r), "屋里太暗了")
	require.Equal(t, StageMergePredefined, res.Stage)
	assert.Equal(t, "0", res.Command.Parameter)
}

func TestRunPredefinedKeepsItsOwnSlots(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{
		predefined("主卧好热", 10, command.ParsedCommand{
			Action: command.ActionModify, DeviceType: "空调", DeviceID: "2", Location: "主卧", Parameter: "-1",
		}),
	}}
	res := Run(context.Background(), snapshot(r), "三号卧室好热")
	require.Equal(t, StageMergePredefined, res.Stage)
	assert.Equal(t, "主卧", res.Command.Location)
	assert.Equal(t, "2", res.Command.DeviceID)
}

func TestRunBelowThreshold(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("打开灯", 400)}}
	res := Run(context.Background(), snapshot(r), "今天天气怎么样")

	assert.True(t, res.Failed())
	assert.Equal(t, ErrBelowThreshold, res.Error)
	assert.Equal(t, command.Empty(), res.Command)
	require.NotNil(t, res.Retrieved)
	assert.Equal(t, "打开灯", res.Retrieved.CommandText)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	for _, k := range []string{"ACTION", "DEVICE_TYPE", "DEVICE_ID", "LOCATION", "PARAMETER"} {
		assert.Contains(t, out, k)
		assert.Nil(t, out[k], k)
	}
	assert.Equal(t, "FAILED", out["stage"])
	assert.Equal(t, "below_threshold", out["error"])
	assert.Contains(t, out, "original_nlu")
	assert.Equal(t, "打开灯", out["retrieved_command"])
	assert.Equal(t, 400.0, out["retrieval_score"])
}

func TestRunThresholdIsInclusive(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("打开灯", 250)}}
	res := Run(context.Background(), snapshot(r), "屋里太暗")
	assert.Equal(t, StageMergeReinterpreted, res.Stage)
}

func TestRunMergeReinterpreted(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("打开灯", 50)}}
	res := Run(context.Background(), snapshot(r), "卧室太暗了")

	require.Equal(t, StageMergeReinterpreted, res.Stage)
	assert.Equal(t, command.ParsedCommand{
		Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "0", Location: "卧室", Parameter: "0",
	}, res.Command)
}

func TestRunReinterpretedBorrowsDeviceType(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("拉上", 30)}}
	res := Run(context.Background(), snapshot(r), "卧室窗帘")

	require.Equal(t, StageMergeReinterpreted, res.Stage)
	assert.Equal(t, command.ActionCloseCurtain, res.Command.Action)
	assert.Equal(t, "窗帘", res.Command.DeviceType)
	assert.Equal(t, "卧室", res.Command.Location)
}

func TestRunReinterpretationInsufficient(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("调高温度", 30)}}
	res := Run(context.Background(), snapshot(r), "有点冷")

	assert.True(t, res.Failed())
	assert.Equal(t, ErrReinterpretationInsufficient, res.Error)
	require.NotNil(t, res.Retrieved)
}

func TestRunPicksMinimumScore(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{
		standard("关闭灯", 200),
		standard("打开灯", 80),
	}}
	res := Run(context.Background(), snapshot(r), "屋里太暗")
	require.Equal(t, StageMergeReinterpreted, res.Stage)
	assert.Equal(t, command.ActionTurnOn, res.Command.Action)
	assert.Equal(t, "打开灯", res.Retrieved.CommandText)
}

func TestRunRetrievalFailures(t *testing.T) {
	tests := []struct {
		name string
		r    retrieval.Retriever
		want ErrorTag
	}{
		{"disabled", nil, ErrRetrievalUnavailable},
		{"error", &stubRetriever{err: retrieval.ErrUnavailable}, ErrRetrievalUnavailable},
		{"panic", &stubRetriever{panics: true}, ErrRetrievalUnavailable},
		{"no matches", &stubRetriever{}, ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Run(context.Background(), snapshot(tt.r), "太冷了")
			assert.Equal(t, StageFailed, res.Stage)
			assert.Equal(t, tt.want, res.Error)
			assert.Equal(t, command.Empty(), res.Command)
		})
	}
}

func TestRunTaggerPanic(t *testing.T) {
	snap := snapshot(&stubRetriever{})
	snap.Tagger = panickyTagger{}

	res := Run(context.Background(), snap, "打开灯")
	assert.Equal(t, ErrNoMatch, res.Error)
	assert.Equal(t, command.Empty(), res.Original)
}

func TestRunDefaultsTopK(t *testing.T) {
	r := &stubRetriever{}
	snap := snapshot(r)
	snap.TopK = 0
	Run(context.Background(), snap, "太冷了")
	assert.Equal(t, engine.DefaultTopK, r.topK)
}

func TestBest(t *testing.T) {
	_, ok := Best(nil)
	assert.False(t, ok)

	best, ok := Best([]retrieval.Match{standard("a", 3), standard("b", 1), standard("c", 1)})
	require.True(t, ok)
	assert.Equal(t, "b", best.CommandText)

	best, ok = Best([]retrieval.Match{standard("a", math.NaN()), standard("b", 10)})
	require.True(t, ok)
	assert.Equal(t, "b", best.CommandText)

	_, ok = Best([]retrieval.Match{standard("a", math.NaN())})
	assert.False(t, ok)
}

func TestRunNaNScoreNeverPasses(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("打开灯", math.NaN())}}
	res := Run(context.Background(), snapshot(r), "卧室太暗了")
	assert.Equal(t, StageFailed, res.Stage)
	assert.Equal(t, ErrNoMatch, res.Error)

	snap := snapshot(&stubRetriever{matches: []retrieval.Match{standard("打开灯", 10)}})
	snap.Threshold = math.NaN()
	res = Run(context.Background(), snap, "卧室太暗了")
	assert.Equal(t, StageFailed, res.Stage)
	assert.Equal(t, ErrBelowThreshold, res.Error)
}

func TestRunConcurrentPreferences(t *testing.T) {
	reg, err := engine.New(engine.Options{
		Taggers: []tagger.Tagger{lexicon.New(config.LexiconConfig{}), silentTagger{}},
		Retrievers: []retrieval.Retriever{
			&fixedRetriever{name: "kb-a", matches: []retrieval.Match{
				predefined("屋里太暗了", 100, command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "0"}),
			}},
			&fixedRetriever{name: "kb-b", matches: []retrieval.Match{standard("关闭灯", 100)}},
		},
		DefaultTagger:    "lexicon",
		DefaultRetriever: "kb-a",
	})
	require.NoError(t, err)

	tests := []struct {
		name          string
		settings      map[string]any
		text          string
		wantTagger    string
		wantRetriever string
		wantThreshold float64
		wantStage     Stage
		wantError     ErrorTag
		wantAction    command.Action
		wantRetrieved string
	}{
		{
			name: "defaults, direct", text: "打开客厅的灯",
			wantTagger: "lexicon", wantRetriever: "kb-a", wantThreshold: engine.DefaultThreshold,
			wantStage: StageDirect, wantAction: command.ActionTurnOn,
		},
		{
			name: "silent tagger, predefined", text: "打开客厅的灯",
			settings:   map[string]any{"tagger": "silent"},
			wantTagger: "silent", wantRetriever: "kb-a", wantThreshold: engine.DefaultThreshold,
			wantStage: StageMergePredefined, wantAction: command.ActionTurnOn, wantRetrieved: "屋里太暗了",
		},
		{
			name: "silent tagger, cannot reinterpret", text: "打开客厅的灯",
			settings:   map[string]any{"tagger": "silent", "retriever": "kb-b"},
			wantTagger: "silent", wantRetriever: "kb-b", wantThreshold: engine.DefaultThreshold,
			wantStage: StageFailed, wantError: ErrReinterpretationInsufficient, wantRetrieved: "关闭灯",
		},
		{
			name: "tight threshold", text: "打开客厅的灯",
			settings:   map[string]any{"tagger": "silent", "similarity_threshold": 50.0},
			wantTagger: "silent", wantRetriever: "kb-a", wantThreshold: 50,
			wantStage: StageFailed, wantError: ErrBelowThreshold, wantRetrieved: "屋里太暗了",
		},
		{
			name: "retrieval disabled", text: "打开客厅的灯",
			settings:   map[string]any{"tagger": "silent", "retriever": engine.NoRetriever},
			wantTagger: "silent", wantRetriever: engine.NoRetriever, wantThreshold: engine.DefaultThreshold,
			wantStage: StageFailed, wantError: ErrRetrievalUnavailable,
		},
		{
			name: "lexicon, reinterpreted", text: "卧室太暗了",
			settings:   map[string]any{"retriever": "kb-b", "similarity_threshold": "120"},
			wantTagger: "lexicon", wantRetriever: "kb-b", wantThreshold: 120,
			wantStage: StageMergeReinterpreted, wantAction: command.ActionTurnOff, wantRetrieved: "关闭灯",
		},
	}

	const rounds = 25
	type outcome struct {
		snap engine.Snapshot
		res  *Result
	}
	got := make([]outcome, len(tests)*rounds)

	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tt := tests[i%len(tests)]
			snap := reg.ResolveSettings(tt.settings)
			got[i] = outcome{snap: snap, res: Run(context.Background(), snap, tt.text)}
		}(i)
	}
	wg.Wait()

	for i, o := range got {
		tt := tests[i%len(tests)]
		assert.Equal(t, tt.wantTagger, o.snap.TaggerName(), tt.name)
		assert.Equal(t, tt.wantRetriever, o.snap.RetrieverName(), tt.name)
		assert.Equal(t, tt.wantThreshold, o.snap.Threshold, tt.name)
		assert.Equal(t, tt.wantStage, o.res.Stage, tt.name)
		assert.Equal(t, tt.wantError, o.res.Error, tt.name)
		assert.Equal(t, tt.wantAction, o.res.Command.Action, tt.name)
		if tt.wantRetrieved == "" {
			assert.Nil(t, o.res.Retrieved, tt.name)
		} else if assert.NotNil(t, o.res.Retrieved, tt.name) {
			assert.Equal(t, tt.wantRetrieved, o.res.Retrieved.CommandText, tt.name)
		}
	}

	def := reg.Default()
	assert.Equal(t, "lexicon", def.TaggerName())
	assert.Equal(t, "kb-a", def.RetrieverName())
	assert.Equal(t, engine.DefaultThreshold, def.Threshold)
}

func TestMerge(t *testing.T) {
	original := command.ParsedCommand{DeviceType: "风扇", DeviceID: "3", Location: "书房"}

	got := Merge(command.ParsedCommand{Action: command.ActionTurnOn, DeviceID: "0"}, original, false)
	assert.Equal(t, command.ParsedCommand{Action: command.ActionTurnOn, DeviceID: "3", Location: "书房"}, got)

	got = Merge(command.ParsedCommand{Action: command.ActionTurnOn}, original, true)
	assert.Equal(t, "风扇", got.DeviceType)

	got = Merge(command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "1", Location: "客厅"}, original, true)
	assert.Equal(t, command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "1", Location: "客厅"}, got)

	got = Merge(command.ParsedCommand{Action: command.ActionTurnOn}, command.ParsedCommand{}, false)
	assert.Equal(t, "0", got.DeviceID)
}

func TestResultJSON(t *testing.T) {
	r := &stubRetriever{matches: []retrieval.Match{standard("打开灯", 50)}}
	res := Run(context.Background(), snapshot(r), "卧室太暗了")

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ACTION": "turn_on",
		"DEVICE_TYPE": "灯",
		"DEVICE_ID": "0",
		"LOCATION": "卧室",
		"PARAMETER": "0",
		"stage": "MERGE_REINTERPRETED",
		"retrieved_command": "打开灯",
		"retrieval_score": 50
	}`, string(b))

	var decoded Result
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, res.Command, decoded.Command)
	assert.Equal(t, res.Stage, decoded.Stage)
	require.NotNil(t, decoded.Retrieved)
	assert.Equal(t, "打开灯", decoded.Retrieved.CommandText)
}

func TestFailedResultJSONRoundTrip(t *testing.T) {
	res := Run(context.Background(), snapshot(nil), "卧室太冷了")
	b, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded Result
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, decoded.Failed())
	assert.Equal(t, ErrRetrievalUnavailable, decoded.Error)
	assert.Equal(t, command.Empty(), decoded.Command)
	assert.Equal(t, "卧室", decoded.Original.Location)
	assert.Nil(t, decoded.Retrieved)
}
