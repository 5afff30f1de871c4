// Package classify maps raw ACTION span text and whole-utterance direction cues
// onto the action taxonomy.
//
// Classification is an ordered rule table: each rule is a predicate plus a
// builder, and the first rule whose predicate holds produces the outcome.
// Adding an action means adding a row, not another branch.
package classify

import (
	"strings"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/nlu/normalize"
	"github.com/nadzzz/homenlu/internal/nlu/numeral"
)

// Input is everything the classifier looks at. All fields are raw text except
// NormalizedParameter, which is the output of normalize.Parameter.
type Input struct {
	ActionText          string
	ParameterText       string
	NormalizedParameter string
	Utterance           string
	DeviceType          string
}

// Outcome is the classified action and parameter. Rule names the table row
// that matched, or is empty when nothing matched.
type Outcome struct {
	Action    command.Action
	Parameter string
	Rule      string
}

// Direction cues, searched in action + parameter + utterance.
var (
	negativeCues = []string{"低", "冷", "暗", "小", "减"}
	positiveCues = []string{"高", "热", "亮", "大", "增", "加"}
)

// Keyword groups, searched in the action span.
var (
	addKeywords      = []string{"增", "添", "装", "安"}
	deleteKeywords   = []string{"删", "移", "除", "不要"}
	onKeywords       = []string{"开", "启", "亮"}
	offKeywords      = []string{"关", "闭", "熄"}
	queryKeywords    = []string{"查", "询", "状态", "情况", "多少", "看", "问"}
	closeKeywords    = []string{"上", "合", "关", "拉"}
	openKeywords     = []string{"开", "收", "卷"}
	modifyKeywords   = []string{"调", "变", "设", "整", "到"}
	relativeQuantity = []string{"一点", "一些", "一点点"}
)

// curtainFullTravel is the curtain parameter when no amount was given:
// fully closed for close_curtain, fully open for open_curtain.
const curtainFullTravel = "1"

type direction struct {
	negative bool
	positive bool
}

func (d direction) any() bool { return d.negative || d.positive }

// signed prefixes a magnitude with the direction sign. Negative wins when
// both cues are present. Only a numeric amount under an explicit action
// verb is signed this way; see leaning for everything else.
func (d direction) signed(magnitude string) string {
	switch {
	case d.negative:
		return "-" + magnitude
	case d.positive:
		return "+" + magnitude
	}
	return magnitude
}

// leaning is signed with positive winning when both cues are present.
func (d direction) leaning(magnitude string) string {
	switch {
	case d.positive:
		return "+" + magnitude
	case d.negative:
		return "-" + magnitude
	}
	return magnitude
}

// unit is the ±1 step used when a direction is given without a quantity.
func (d direction) unit() string {
	if !d.any() {
		return ""
	}
	return d.leaning("1")
}

type state struct {
	in     Input
	action string
	cues   string
	dir    direction
}

type rule struct {
	name     string
	implicit bool // fires only when there is no action span; other rows need one
	match    func(s *state) bool
	build    func(s *state) Outcome
}

// rules is evaluated top to bottom; order matters because the keyword groups
// overlap (关 is both off and curtain-close, 开 both on and curtain-open).
var rules = []rule{
	{
		name: "add",
		match: func(s *state) bool {
			return containsAny(s.action, addKeywords) ||
				(strings.Contains(s.action, "加") && !s.dir.positive)
		},
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionAdd, Parameter: s.in.ParameterText}
		},
	},
	{
		name:  "delete",
		match: func(s *state) bool { return containsAny(s.action, deleteKeywords) },
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionDelete, Parameter: s.in.ParameterText}
		},
	},
	{
		name:  "turn_on",
		match: func(s *state) bool { return containsAny(s.action, onKeywords) },
		build: func(*state) Outcome { return Outcome{Action: command.ActionTurnOn, Parameter: "0"} },
	},
	{
		name:  "turn_off",
		match: func(s *state) bool { return containsAny(s.action, offKeywords) },
		build: func(*state) Outcome { return Outcome{Action: command.ActionTurnOff, Parameter: "0"} },
	},
	{
		name:  "query",
		match: func(s *state) bool { return containsAny(s.action, queryKeywords) },
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionQuery, Parameter: s.in.ParameterText}
		},
	},
	{
		name:  "close_curtain",
		match: func(s *state) bool { return containsAny(s.action, closeKeywords) },
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionCloseCurtain, Parameter: curtainParameter(s.in)}
		},
	},
	{
		name:  "open_curtain",
		match: func(s *state) bool { return containsAny(s.action, openKeywords) },
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionOpenCurtain, Parameter: curtainParameter(s.in)}
		},
	},
	{
		name: "modify",
		match: func(s *state) bool {
			return containsAny(s.action, modifyKeywords) || s.dir.any() || s.in.ParameterText != ""
		},
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionModify, Parameter: modifyParameter(s)}
		},
	},
	{
		name:     "implicit_modify",
		implicit: true,
		match: func(s *state) bool {
			return s.in.DeviceType != "" && s.in.ParameterText != ""
		},
		build: func(s *state) Outcome {
			p := s.in.NormalizedParameter
			if isRelative(s.in.ParameterText) && s.dir.any() {
				p = s.dir.leaning("0.1")
			} else if v, ok := normalize.IsNumeric(p); ok {
				p = s.dir.leaning(magnitude(v))
				if !s.dir.any() {
					p = numeral.Format(v)
				}
			} else if s.dir.any() {
				p = s.dir.unit()
			}
			return Outcome{Action: command.ActionModify, Parameter: p}
		},
	},
	{
		name:     "implicit_step",
		implicit: true,
		match: func(s *state) bool {
			return s.in.ParameterText == "" && s.in.DeviceType != "" && s.dir.any()
		},
		build: func(s *state) Outcome {
			return Outcome{Action: command.ActionModify, Parameter: s.dir.unit()}
		},
	},
}

// Classify runs the rule table. It is a pure function of in.
func Classify(in Input) Outcome {
	s := &state{
		in:     in,
		action: strings.Join(strings.Fields(in.ActionText), ""),
	}
	s.cues = in.ActionText + in.ParameterText + in.Utterance
	s.dir = direction{
		negative: containsAny(s.cues, negativeCues),
		positive: containsAny(s.cues, positiveCues),
	}

	for _, r := range rules {
		if r.implicit != (s.action == "") {
			continue
		}
		if r.match(s) {
			out := r.build(s)
			out.Rule = r.name
			return out
		}
	}
	return Outcome{Parameter: in.NormalizedParameter}
}

func modifyParameter(s *state) string {
	raw := s.in.ParameterText
	if isRelative(raw) {
		if s.dir.any() {
			return s.dir.leaning("0.1")
		}
		return raw
	}
	if v, ok := normalize.IsNumeric(s.in.NormalizedParameter); ok {
		if !s.dir.any() {
			return numeral.Format(v)
		}
		return s.dir.signed(magnitude(v))
	}
	if raw != "" {
		return raw
	}
	return s.dir.unit()
}

func curtainParameter(in Input) string {
	if _, ok := normalize.IsNumeric(in.NormalizedParameter); ok {
		return in.NormalizedParameter
	}
	if in.ParameterText == "" {
		return curtainFullTravel
	}
	return in.ParameterText
}

func isRelative(text string) bool {
	for _, r := range relativeQuantity {
		if text == r {
			return true
		}
	}
	return false
}

func magnitude(v float64) string {
	if v < 0 {
		v = -v
	}
	return numeral.Format(v)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
