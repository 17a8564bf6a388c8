package toolgate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type messageKind int

const (
	kindUnknown messageKind = iota
	kindRequest
	kindNotification
	kindResponse
)

// rawEnvelope is the superset of all JSON-RPC message shapes, used only for
// classification.
type rawEnvelope struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params"`
	Result  json.RawMessage  `json:"result"`
	Error   json.RawMessage  `json:"error"`
}

// parsedMessage is one classified element of an HTTP body.
type parsedMessage struct {
	kind         messageKind
	request      *Request
	notification *Notification
}

// decodeMessages parses an HTTP body into one or more JSON-RPC messages. The
// second return value reports whether the body was a batch (JSON array). A
// body that is not valid JSON yields an error that the caller must surface as
// a -32700 parse error; the request id is unknowable at that point.
func decodeMessages(body []byte) ([]parsedMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request body")
	}

	var elems []json.RawMessage
	batch := trimmed[0] == '['
	if batch {
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, true, fmt.Errorf("invalid JSON batch: %w", err)
		}
	} else {
		var single json.RawMessage
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, false, fmt.Errorf("invalid JSON: %w", err)
		}
		elems = []json.RawMessage{single}
	}

	msgs := make([]parsedMessage, 0, len(elems))
	for _, elem := range elems {
		msgs = append(msgs, classifyMessage(elem))
	}
	return msgs, batch, nil
}

// classifyMessage decides whether a single message is a request, notification
// or response. Anything that fits none of the three shapes is reported as
// unknown and silently ignored by the caller, keeping the wire format open to
// protocol extensions.
func classifyMessage(raw json.RawMessage) parsedMessage {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return parsedMessage{kind: kindUnknown}
	}

	switch {
	case env.Method != "" && env.ID != nil:
		return parsedMessage{
			kind: kindRequest,
			request: &Request{
				JSONRPC: env.JSONRPC,
				ID:      env.ID,
				Method:  env.Method,
				Params:  env.Params,
			},
		}
	case env.ID != nil && (len(env.Result) > 0 || len(env.Error) > 0):
		return parsedMessage{kind: kindResponse}
	case env.Method != "":
		return parsedMessage{
			kind: kindNotification,
			notification: &Notification{
				JSONRPC: env.JSONRPC,
				Method:  env.Method,
				Params:  env.Params,
			},
		}
	default:
		return parsedMessage{kind: kindUnknown}
	}
}
