package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound frame types.
const (
	frameMessage     = "message"
	frameSendMessage = "send_message"
	frameGetHistory  = "get_history"
	frameStop        = "stop"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	frames  map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		frames := map[string]string{
			frameMessage:     wsMessageFrameSchema,
			frameSendMessage: wsMessageFrameSchema,
			frameGetHistory:  wsHistoryFrameSchema,
			frameStop:        wsStopFrameSchema,
		}
		wsSchemas.frames = make(map[string]*jsonschema.Schema, len(frames))
		for name, schema := range frames {
			compiled, err := jsonschema.CompileString("ws_frame_"+name+".json", schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.frames[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// inboundFrame is a decoded client frame. A missing type means "message".
type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Limit   int    `json:"limit"`
}

// frameError is reported to the client as an error event.
type frameError struct {
	msg string
}

func (e *frameError) Error() string { return e.msg }

// decodeFrame parses and validates raw. Every failure is a *frameError whose
// text is safe to send back.
func decodeFrame(raw []byte) (*inboundFrame, error) {
	if err := initWSSchemas(); err != nil {
		return nil, fmt.Errorf("failed to compile frame schemas: %w", err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &frameError{msg: "Invalid JSON format"}
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, &frameError{msg: "Invalid JSON format"}
	}

	typ := frameMessage
	if v, present := obj["type"]; present {
		s, isString := v.(string)
		if !isString {
			return nil, &frameError{msg: fmt.Sprintf("Unknown message type: %v", v)}
		}
		typ = s
	}
	schema := wsSchemas.frames[typ]
	if schema == nil {
		return nil, &frameError{msg: "Unknown message type: " + typ}
	}
	if err := schema.Validate(obj); err != nil {
		return nil, &frameError{msg: fmt.Sprintf("Invalid %s frame", typ)}
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &frameError{msg: "Invalid JSON format"}
	}
	frame.Type = typ
	return &frame, nil
}

const wsMessageFrameSchema = `{
  "type": "object",
  "properties": {
    "type": { "enum": ["message", "send_message"] },
    "content": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsHistoryFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "const": "get_history" },
    "limit": { "type": "integer", "minimum": 0, "maximum": 1000 }
  },
  "additionalProperties": true
}`

const wsStopFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "const": "stop" }
  },
  "additionalProperties": true
}`
