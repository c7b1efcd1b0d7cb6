package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ID is a JSON-RPC request identifier: a string, an integer, or absent
// (notification). A JSON null is only valid on the wire for parse-error
// responses (spec §3, §6) — never as a request id.
type ID struct {
	raw     json.RawMessage
	isSet   bool
	isNull  bool
	str     string
	isStr   bool
	num     int64
	isNum   bool
}

// NewStringID builds a string-valued ID.
func NewStringID(s string) ID { return ID{isSet: true, isStr: true, str: s} }

// NewIntID builds an integer-valued ID.
func NewIntID(n int64) ID { return ID{isSet: true, isNum: true, num: n} }

// NullID is the JSON `null` id used only in parse-error responses.
func NullID() ID { return ID{isSet: true, isNull: true} }

// IsPresent reports whether an id was present on the wire at all
// (absence means the message is a notification).
func (id ID) IsPresent() bool { return id.isSet }

// IsNull reports whether the id was the JSON literal null.
func (id ID) IsNull() bool { return id.isSet && id.isNull }

// String returns the string form of the id, ok=false if not a string.
func (id ID) String() (string, bool) { return id.str, id.isStr }

// Int returns the integer form of the id, ok=false if not an integer.
func (id ID) Int() (int64, bool) { return id.num, id.isNum }

// MarshalJSON preserves the original wire type (string vs integer vs null)
// so responses echo the request id verbatim, per spec §6.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.isSet:
		return []byte("null"), nil
	case id.isNull:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	case id.isNum:
		return json.Marshal(id.num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON parses a wire id. A fractional number is rejected with
// errFractionalID so callers can surface -32600 (invalid request).
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ID{isSet: true, isNull: true}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID{isSet: true, isStr: true, str: s}
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return errInvalidID
	}
	if bytes.ContainsRune(trimmed, '.') || bytes.ContainsAny(trimmed, "eE") {
		return errFractionalID
	}
	i, err := n.Int64()
	if err != nil {
		return errFractionalID
	}
	*id = ID{isSet: true, isNum: true, num: i}
	return nil
}

var (
	errFractionalID = errors.New("protocol: id must not be a fractional number")
	errInvalidID    = errors.New("protocol: id must be a string or integer")
)

// Request is a parsed JSON-RPC 2.0 request. A Request with no ID (IsPresent
// == false) is a notification: handlers MUST NOT emit a response for it.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	// idWasAbsent tracks whether the wire payload had no "id" key at all,
	// distinguishing a notification from a request with id:null (invalid).
	idWasAbsent bool
}

// IsNotification reports whether this request carries no id.
func (r *Request) IsNotification() bool { return r.idWasAbsent }

// UnmarshalJSON tracks whether the "id" key was present on the wire at all.
// A pointer field alone can't distinguish an absent key from an explicit
// `"id": null` (encoding/json nils the pointer in both cases), so presence
// is checked against the raw object keys first.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var plain struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	r.JSONRPC = plain.JSONRPC
	r.Method = plain.Method
	r.Params = plain.Params

	idRaw, present := fields["id"]
	if !present {
		r.idWasAbsent = true
		r.ID = ID{}
		return nil
	}
	r.idWasAbsent = false
	return r.ID.UnmarshalJSON(idRaw)
}

// Response is a JSON-RPC 2.0 response: exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a success response for id with the given result
// payload (already-marshaled JSON).
func NewResultResponse(id ID, result json.RawMessage) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: err}
}

// Batch is an ordered sequence of requests parsed from a JSON array.
type Batch []*Request
