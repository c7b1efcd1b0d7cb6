package protocol

import (
	"bytes"
	"encoding/json"
)

// ParsedMessage is either a single Request or a Batch, never both.
type ParsedMessage struct {
	Single *Request
	Batch  Batch
}

// Parse decodes raw bytes into either a single request or a batch,
// performing the shape validation spec §4.2 and §8 require. On any
// violation it returns a *Error suitable for a parse-error or
// invalid-request response; the caller decides the id to attach (parse
// errors always use a null id, per spec §6).
func Parse(data []byte) (*ParsedMessage, *Error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ParseError("empty request body")
	}
	if !json.Valid(trimmed) {
		return nil, ParseError("invalid JSON")
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, ParseError("invalid JSON array")
		}
		if len(raw) == 0 {
			return nil, InvalidRequest("batch must not be empty")
		}
		batch := make(Batch, 0, len(raw))
		for _, item := range raw {
			req, verr := parseOne(item)
			if verr != nil {
				return nil, verr
			}
			batch = append(batch, req)
		}
		return &ParsedMessage{Batch: batch}, nil
	}

	req, verr := parseOne(trimmed)
	if verr != nil {
		return nil, verr
	}
	return &ParsedMessage{Single: req}, nil
}

// parseOne parses and validates a single JSON-RPC request object.
func parseOne(data []byte) (*Request, *Error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, InvalidRequest("request must be a JSON object")
	}

	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		if err == errFractionalID {
			return nil, InvalidRequest("id must not be a fractional number")
		}
		return nil, InvalidRequest("malformed request")
	}

	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate enforces the shape rules of spec §4.2: jsonrpc == "2.0", method
// is a non-empty string for requests, and (when present) id is a string or
// integer, never null.
func Validate(req *Request) *Error {
	if req.JSONRPC != "2.0" {
		return InvalidRequest(`jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return InvalidRequest("method must be a non-empty string")
	}
	if !req.IsNotification() && req.ID.IsNull() {
		return InvalidRequest("id must not be null")
	}
	return nil
}

// Serialize marshals a Response to its wire JSON form.
func Serialize(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}
