// Package normalize turns raw entity span text into canonical slot values.
//
// Both normalizers are best effort: text that cannot be read as a number is
// returned unchanged so qualitative values (colors, modes, names) survive.
package normalize

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/nlu/numeral"
)

const (
	ordinalPrefix    = "第"
	percentPrefix    = "百分之"
	percentSign      = "%"
	fullWidthPercent = "％"
)

var (
	idSuffixes   = []string{"号", "个"}
	measureWords = []string{"度", "档", "格"}
)

// DeviceID normalizes a DEVICE_ID span. Ordinals (第N) become zero-based
// indexes; an empty span yields the default id.
func DeviceID(span string) string {
	span = strings.TrimSpace(span)
	if span == "" {
		return command.DefaultDeviceID
	}
	if isDigits(span) {
		return span
	}

	core := span
	for _, s := range idSuffixes {
		core = strings.TrimSuffix(core, s)
	}
	ordinal := strings.HasPrefix(core, ordinalPrefix)
	core = strings.TrimPrefix(core, ordinalPrefix)
	if core == "" {
		slog.Warn("device id has no numeric core", "span", span)
		return span
	}

	n, ok := numeral.ToNumber(core)
	if !ok {
		slog.Debug("device id left unnormalized", "span", span)
		return span
	}
	id := int(n)
	if ordinal && id > 0 {
		id--
	}
	return strconv.Itoa(id)
}

// Parameter normalizes a PARAMETER span. It returns "" for an empty span,
// the formatted number when the span is numeric (percentages scaled to a
// fraction), and the original span otherwise.
func Parameter(span string) string {
	text := strings.TrimSpace(span)
	if text == "" {
		return ""
	}

	percent := false
	core := text
	switch {
	case strings.Contains(core, percentSign) || strings.Contains(core, fullWidthPercent):
		core = strings.ReplaceAll(core, percentSign, "")
		core = strings.ReplaceAll(core, fullWidthPercent, "")
		percent = true
	case strings.HasPrefix(core, percentPrefix):
		core = strings.TrimPrefix(core, percentPrefix)
		percent = true
	}
	core = strings.TrimSpace(core)

	if !percent {
		for _, w := range measureWords {
			if trimmed := strings.TrimSuffix(core, w); trimmed != core {
				core = strings.TrimSpace(trimmed)
				break
			}
		}
	}
	if core == "" {
		return span
	}

	v, ok := numeral.ToNumber(core)
	if !ok {
		slog.Debug("parameter is not numeric, keeping original", "span", span)
		return span
	}
	if percent {
		v /= 100
	}
	return numeral.Format(v)
}

// IsNumeric reports whether a normalized parameter holds a number and returns it.
func IsNumeric(param string) (float64, bool) {
	if param == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(param, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
