// Package docs registers the OpenAPI document served at /swagger/ by the
// HTTP transport. Regenerate with: swag init -g cmd/homenlu/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/interpret": {
            "post": {
                "description": "Accepts a JSON message, or a plain-text body holding only the utterance.\nThe utterance is run through direct extraction and, when that is not actionable,\nknowledge-base retrieval. The result is routed to any requested targets.",
                "consumes": ["application/json", "text/plain"],
                "produces": ["application/json"],
                "tags": ["interpret"],
                "summary": "Interpret a smart-home command",
                "parameters": [
                    {
                        "description": "Interpret request (JSON). For plain text, POST the utterance with Content-Type text/plain.",
                        "name": "message",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/message.Message"}
                    },
                    {
                        "type": "string",
                        "description": "Sender identifier (used with plain-text bodies)",
                        "name": "X-Homenlu-Source",
                        "in": "header"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Interpreted command",
                        "schema": {"$ref": "#/definitions/message.DispatchResult"}
                    },
                    "400": {"description": "Invalid request body", "schema": {"type": "string"}},
                    "500": {"description": "Internal processing error", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "message.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source": {"type": "string"},
                "text": {"type": "string", "example": "把客厅空调调低两度"},
                "settings": {"type": "object", "additionalProperties": true},
                "reply_to": {"type": "string"},
                "instruction": {"$ref": "#/definitions/message.Instruction"},
                "timestamp": {"type": "string"}
            }
        },
        "message.Instruction": {
            "type": "object",
            "properties": {
                "targets": {"type": "array", "items": {"$ref": "#/definitions/message.Target"}},
                "response_mode": {"type": "string", "enum": ["none", "text"]}
            }
        },
        "message.Target": {
            "type": "object",
            "properties": {
                "service_name": {"type": "string"},
                "endpoint": {"type": "string"},
                "protocol": {"type": "string", "enum": ["http", "grpc", "mqtt"]},
                "token": {"type": "string"}
            }
        },
        "message.Engines": {
            "type": "object",
            "properties": {
                "tagger": {"type": "string"},
                "retriever": {"type": "string"},
                "similarity_threshold": {"type": "number"},
                "top_k": {"type": "integer"}
            }
        },
        "orchestrator.Result": {
            "type": "object",
            "properties": {
                "ACTION": {"type": "string", "x-nullable": true},
                "DEVICE_TYPE": {"type": "string", "x-nullable": true},
                "DEVICE_ID": {"type": "string", "x-nullable": true},
                "LOCATION": {"type": "string", "x-nullable": true},
                "PARAMETER": {"type": "string", "x-nullable": true},
                "stage": {"type": "string", "enum": ["DIRECT", "MERGE_PREDEFINED", "MERGE_REINTERPRETED", "FAILED"]},
                "error": {"type": "string", "enum": ["no_match", "below_threshold", "retrieval_unavailable", "reinterpretation_insufficient"]},
                "original_nlu": {"type": "object"},
                "retrieved_command": {"type": "string"},
                "retrieval_score": {"type": "number"}
            }
        },
        "message.DispatchResult": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"},
                "text": {"type": "string"},
                "result": {"$ref": "#/definitions/orchestrator.Result"},
                "engines": {"$ref": "#/definitions/message.Engines"},
                "routed_to": {"type": "array", "items": {"type": "string"}},
                "response_text": {"type": "string"},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "homenlu API",
	Description:      "Chinese smart-home command interpretation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
