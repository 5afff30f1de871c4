// Package bio decodes per-token BIO tags into typed entity spans.
package bio

import (
	"errors"
	"fmt"
	"strings"
)

// EntityType is a slot label produced by the tagger.
type EntityType string

const (
	DeviceType EntityType = "DEVICE_TYPE"
	DeviceID   EntityType = "DEVICE_ID"
	Location   EntityType = "LOCATION"
	Action     EntityType = "ACTION"
	Parameter  EntityType = "PARAMETER"
)

// EntityTypes lists every type the extractor keeps, in slot order.
var EntityTypes = []EntityType{DeviceType, DeviceID, Location, Action, Parameter}

func known(t EntityType) bool {
	for _, k := range EntityTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Tag prefixes and the outside label.
const (
	Begin   = "B-"
	Inside  = "I-"
	Outside = "O"
)

// ErrMisaligned is returned when tokens and tags differ in length.
var ErrMisaligned = errors.New("bio: token and tag counts differ")

// Spans groups extracted span texts by entity type, in input order.
type Spans map[EntityType][]string

// First returns the first span of type t, or "".
func (s Spans) First(t EntityType) string {
	if v := s[t]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Joined concatenates every span of type t with sep.
func (s Spans) Joined(t EntityType, sep string) string {
	return strings.Join(s[t], sep)
}

// Count is the number of spans across all types.
func (s Spans) Count() int {
	n := 0
	for _, v := range s {
		n += len(v)
	}
	return n
}

// Extract scans tokens and tags once, left to right. A B- tag closes the open
// span and starts a new one; an I- tag extends the open span only when the
// types agree and otherwise just closes it; any other tag closes it.
// On a length mismatch the result is empty and ErrMisaligned is returned.
func Extract(tokens, tags []string) (Spans, error) {
	spans := make(Spans, len(EntityTypes))
	if len(tokens) != len(tags) {
		return spans, fmt.Errorf("%w: %d tokens, %d tags", ErrMisaligned, len(tokens), len(tags))
	}

	var (
		current     []string
		currentType EntityType
	)
	flush := func() {
		if len(current) > 0 && known(currentType) {
			spans[currentType] = append(spans[currentType], strings.Join(current, ""))
		}
		current = nil
		currentType = ""
	}

	for i, tag := range tags {
		token := strings.TrimPrefix(tokens[i], "##")
		switch {
		case strings.HasPrefix(tag, Begin):
			flush()
			current = []string{token}
			currentType = EntityType(tag[len(Begin):])
		case strings.HasPrefix(tag, Inside) && currentType != "" && EntityType(tag[len(Inside):]) == currentType:
			current = append(current, token)
		default:
			flush()
		}
	}
	flush()
	return spans, nil
}
