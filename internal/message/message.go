// Package message defines the core data types flowing through the homenlu pipeline.
package message

import (
	"time"

	"github.com/nadzzz/homenlu/internal/orchestrator"
)

// ResponseMode controls what natural-language output the caller wants.
// The caller declares the desired output in the request body and the server
// populates or omits response fields accordingly.
type ResponseMode string

const (
	// ResponseModeNone suppresses the confirmation text.
	// Only the interpreted command is returned.
	ResponseModeNone ResponseMode = "none"

	// ResponseModeText returns a Chinese confirmation sentence. This is the default.
	ResponseModeText ResponseMode = "text"
)

// Message represents an incoming request from any transport.
type Message struct {
	// ID is a unique identifier for this message (UUID). Assigned on receipt if empty.
	ID string `json:"id"`

	// Source identifies the sender (e.g., "panel-livingroom", "phone-alice").
	Source string `json:"source"`

	// Text is the utterance to interpret, e.g. "把客厅空调调低两度".
	Text string `json:"text"`

	// Settings carries per-request engine preferences: "tagger", "retriever",
	// "similarity_threshold" and "top_k". Unknown keys are ignored.
	Settings map[string]any `json:"settings,omitempty"`

	// ReplyTo overrides where asynchronous transports (MQTT) publish the result.
	ReplyTo string `json:"reply_to,omitempty"`

	// Instruction tells homenlu how to respond and where to route the result.
	Instruction Instruction `json:"instruction"`

	// Timestamp is when the message was received by homenlu.
	Timestamp time.Time `json:"timestamp"`
}

// Instruction describes how to respond to and route a message.
type Instruction struct {
	// Targets lists the services that should receive the interpreted command.
	// The original sender always receives the response regardless of this list.
	Targets []Target `json:"targets,omitempty"`

	// ResponseMode controls the natural-language response output:
	//   "none": no confirmation text
	//   "text": confirmation text (default)
	ResponseMode ResponseMode `json:"response_mode,omitempty"`
}

// Target defines a downstream service that should receive commands.
type Target struct {
	// ServiceName is a human-readable identifier (e.g., "homeassistant", "gateway").
	ServiceName string `json:"service_name"`

	// Endpoint is the address to reach this target (e.g., "http://gw.local:8123/api/command").
	// For MQTT targets it is the topic to publish on.
	Endpoint string `json:"endpoint"`

	// Protocol is the protocol to use ("http", "grpc", "mqtt").
	Protocol string `json:"protocol"`

	// Token is an optional bearer token sent with HTTP and gRPC deliveries.
	Token string `json:"token,omitempty"`
}

// DispatchResult is the outcome of processing a message through the pipeline.
type DispatchResult struct {
	// MessageID is the original message ID.
	MessageID string `json:"message_id"`

	// Text is the utterance that was interpreted.
	Text string `json:"text,omitempty"`

	// Result is the interpreted five-slot command with retrieval diagnostics.
	Result *orchestrator.Result `json:"result,omitempty"`

	// Engines names the tagger and retriever that served this request.
	Engines Engines `json:"engines"`

	// RoutedTo lists the targets that received the result.
	RoutedTo []string `json:"routed_to"`

	// ResponseText is a Chinese confirmation sentence.
	// Populated when response_mode is "text".
	ResponseText string `json:"response_text,omitempty"`

	// Error is set if the request itself was unusable (e.g., no text).
	// Interpretation failures are reported in Result instead.
	Error string `json:"error,omitempty"`
}

// Engines records the engine snapshot used for one request.
type Engines struct {
	Tagger    string  `json:"tagger"`
	Retriever string  `json:"retriever"`
	Threshold float64 `json:"similarity_threshold"`
	TopK      int     `json:"top_k"`
}
