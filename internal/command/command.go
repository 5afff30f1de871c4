// Package command defines the five-slot record that the interpretation pipeline
// produces and the device-control layer consumes.
//
// Absent slots are represented by the empty string in Go and by JSON null on the
// wire. DeviceID is the exception: it always carries a value and defaults to "0".
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nadzzz/homenlu/internal/nlu/numeral"
)

// Action is a member of the closed action taxonomy.
type Action string

const (
	ActionTurnOn       Action = "turn_on"
	ActionTurnOff      Action = "turn_off"
	ActionModify       Action = "modify"
	ActionAdd          Action = "add"
	ActionDelete       Action = "delete"
	ActionQuery        Action = "query"
	ActionOpenCurtain  Action = "open_curtain"
	ActionCloseCurtain Action = "close_curtain"
)

var taxonomy = map[Action]struct{}{
	ActionTurnOn:       {},
	ActionTurnOff:      {},
	ActionModify:       {},
	ActionAdd:          {},
	ActionDelete:       {},
	ActionQuery:        {},
	ActionOpenCurtain:  {},
	ActionCloseCurtain: {},
}

// Valid reports whether a is part of the taxonomy.
func (a Action) Valid() bool {
	_, ok := taxonomy[a]
	return ok
}

// ParseAction maps s onto the taxonomy. Unknown strings yield ("", false).
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	if !a.Valid() {
		return "", false
	}
	return a, true
}

// DefaultDeviceID is used whenever no device id was recognised.
const DefaultDeviceID = "0"

// ParsedCommand is the {ACTION, DEVICE_TYPE, DEVICE_ID, LOCATION, PARAMETER} record.
// Values are immutable by convention: merges build a new value.
type ParsedCommand struct {
	Action     Action
	DeviceType string
	DeviceID   string
	Location   string
	Parameter  string
}

// Empty returns the record with every slot absent.
func Empty() ParsedCommand {
	return ParsedCommand{DeviceID: DefaultDeviceID}
}

// HasDeviceID reports whether the record identifies a specific device.
func (c ParsedCommand) HasDeviceID() bool {
	return c.DeviceID != "" && c.DeviceID != DefaultDeviceID
}

// Actionable reports whether the record can be dispatched without further
// disambiguation.
func (c ParsedCommand) Actionable() bool {
	switch {
	case c.Action != "" && c.DeviceType != "":
		return true
	case (c.Action == ActionAdd || c.Action == ActionDelete) && c.Parameter != "":
		return true
	case c.Action == ActionOpenCurtain || c.Action == ActionCloseCurtain:
		return true
	}
	return false
}

// wireCommand is the JSON shape shared with downstream layers.
type wireCommand struct {
	Action     *string `json:"ACTION"`
	DeviceType *string `json:"DEVICE_TYPE"`
	DeviceID   *string `json:"DEVICE_ID"`
	Location   *string `json:"LOCATION"`
	Parameter  *string `json:"PARAMETER"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON emits absent slots as null.
func (c ParsedCommand) MarshalJSON() ([]byte, error) {
	id := c.DeviceID
	if id == "" {
		id = DefaultDeviceID
	}
	return json.Marshal(wireCommand{
		Action:     nullable(string(c.Action)),
		DeviceType: nullable(c.DeviceType),
		DeviceID:   &id,
		Location:   nullable(c.Location),
		Parameter:  nullable(c.Parameter),
	})
}

// NullJSON is the all-null five-tuple used by failed interpretations.
func NullJSON() json.RawMessage {
	return json.RawMessage(`{"ACTION":null,"DEVICE_TYPE":null,"DEVICE_ID":null,"LOCATION":null,"PARAMETER":null}`)
}

// UnmarshalJSON accepts records authored by hand (knowledge bases, tests):
// numeric PARAMETER and DEVICE_ID values are formatted as strings and
// actions outside the taxonomy are dropped.
func (c *ParsedCommand) UnmarshalJSON(data []byte) error {
	var raw struct {
		Action     json.RawMessage `json:"ACTION"`
		DeviceType json.RawMessage `json:"DEVICE_TYPE"`
		DeviceID   json.RawMessage `json:"DEVICE_ID"`
		Location   json.RawMessage `json:"LOCATION"`
		Parameter  json.RawMessage `json:"PARAMETER"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out ParsedCommand
	var err error
	fields := []struct {
		name string
		src  json.RawMessage
		dst  *string
	}{
		{"DEVICE_TYPE", raw.DeviceType, &out.DeviceType},
		{"DEVICE_ID", raw.DeviceID, &out.DeviceID},
		{"LOCATION", raw.Location, &out.Location},
		{"PARAMETER", raw.Parameter, &out.Parameter},
	}
	for _, f := range fields {
		if *f.dst, err = scalar(f.src); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}

	action, err := scalar(raw.Action)
	if err != nil {
		return fmt.Errorf("ACTION: %w", err)
	}
	if action != "" {
		a, ok := ParseAction(action)
		if !ok {
			slog.Warn("dropping action outside taxonomy", "action", action)
		}
		out.Action = a
	}

	if out.DeviceID == "" {
		out.DeviceID = DefaultDeviceID
	}
	*c = out
	return nil
}

// scalar decodes a JSON string, number or null into its slot string.
func scalar(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("unsupported value %s", data)
	case 't', 'f':
		return "", fmt.Errorf("unsupported boolean value %s", data)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return "", fmt.Errorf("invalid number %s: %w", data, err)
	}
	return numeral.Format(f), nil
}
