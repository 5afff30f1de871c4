// Package numeral converts Chinese numerals and plain digit strings into numbers.
//
// Supported forms are integers below ten thousand built from the digits 零-九
// (两 as a synonym for 二) and the magnitude units 十, 百 and 千, optionally
// followed by 点 and a run of decimal digits. Anything else is reported as
// not numeric so callers can keep the original text.
package numeral

import (
	"math"
	"strconv"
	"strings"
)

// DecimalMarker separates the integer and fractional parts of a Chinese numeral.
const DecimalMarker = "点"

// suffixes are id/measure words that may trail a numeral.
var suffixes = []string{"号", "个", "度"}

var digits = map[rune]int{
	'零': 0, '〇': 0,
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4,
	'5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
}

var units = map[rune]int{
	'十': 10,
	'百': 100,
	'千': 1000,
}

// ToNumber converts text to a number. The boolean is false when text is empty
// or contains anything outside the supported grammar.
func ToNumber(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	for _, s := range suffixes {
		text = strings.TrimSuffix(text, s)
	}
	if text == "" {
		return 0, false
	}

	if f, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}

	intPart, fracPart, hasMarker := strings.Cut(text, DecimalMarker)

	whole := 0
	if intPart != "" {
		n, ok := integer(intPart)
		if !ok {
			return 0, false
		}
		whole = n
	} else if !hasMarker {
		return 0, false
	}

	if hasMarker && fracPart == "" {
		// 一点 is "a little", not 1.
		return 0, false
	}
	if fracPart == "" {
		return float64(whole), true
	}

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(whole))
	sb.WriteByte('.')
	for _, r := range fracPart {
		d, ok := digits[r]
		if !ok {
			return 0, false
		}
		sb.WriteString(strconv.Itoa(d))
	}
	f, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// integer scans s left to right, accumulating a running digit value that is
// multiplied by the next magnitude unit. A unit with no preceding digit
// counts as one of that unit (十三 = 13).
func integer(s string) (int, bool) {
	total, current := 0, 0
	prevZero := false
	for _, r := range s {
		if d, ok := digits[r]; ok {
			if current > 0 && !prevZero && d != 0 {
				current = current*10 + d
			} else {
				current = d
			}
			prevZero = d == 0
			continue
		}
		u, ok := units[r]
		if !ok {
			return 0, false
		}
		if current == 0 {
			current = 1
		}
		total += current * u
		current = 0
		prevZero = false
	}
	return total + current, true
}

// Format renders v without a decimal point when it is whole and in the
// shortest exact decimal form otherwise.
func Format(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
