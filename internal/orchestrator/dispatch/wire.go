// Package dispatch accepts protocol-encoded commands from any number of
// concurrent channels, classifies them by execution affinity, schedules them
// (serialized versus parallel), and resolves exactly one reply per command.
//
// The protocol is line oriented: one JSON object per line in both
// directions. Requests carry a numeric id, a method name, and method
// specific fields; replies carry the same id with either a result or an
// error payload.
package dispatch

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// reply is one encoded protocol response line (without trailing newline).
type reply []byte

// parseRequest decodes one request line into a Command. The id and method
// are peeked with gjson before the full decode so malformed requests can
// still be correlated when possible.
func parseRequest(line []byte) (*Command, error) {
	if !gjson.ValidBytes(line) {
		return &Command{ID: -1}, ErrMalformedRequest.Msg("request is not valid JSON")
	}
	idField := gjson.GetBytes(line, "id")
	method := gjson.GetBytes(line, "method")

	cmd := &Command{ID: -1}
	if !idField.Exists() {
		return cmd, ErrMalformedRequest.Msg("id is required")
	}
	if idField.Type != gjson.Number {
		return cmd, ErrMalformedRequest.Msg("id must be a number")
	}
	cmd.ID = idField.Int()
	if !method.Exists() || method.Type != gjson.String || method.String() == "" {
		return cmd, ErrMalformedRequest.Msg("method is required")
	}
	cmd.Method = method.String()

	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return cmd, ErrMalformedRequest.MsgErr("decoding request", err)
	}
	delete(fields, "id")
	delete(fields, "method")
	if cid, ok := fields["context_id"].(string); ok {
		cmd.SessionID = cid
		delete(fields, "context_id")
	}
	cmd.Params = fields
	return cmd, nil
}

// encodeResult builds a success reply: {"id": N, "result": ...}.
func encodeResult(id int64, result any) reply {
	body, err := json.Marshal(map[string]any{
		"id":     id,
		"result": result,
	})
	if err != nil {
		return encodeError(id, "unable to encode result")
	}
	return body
}

// encodeResultWithContextID builds a success reply and merges the session id
// into the result object. Session-creation replies always carry context_id.
func encodeResultWithContextID(id int64, result any, contextID string) reply {
	body := encodeResult(id, result)
	merged, err := sjson.SetBytes(body, "result.context_id", contextID)
	if err != nil {
		return body
	}
	return merged
}

// encodeError builds an error reply: {"id": N, "error": "..."}.
func encodeError(id int64, msg string) reply {
	body, err := json.Marshal(map[string]any{
		"id":    id,
		"error": msg,
	})
	if err != nil {
		// Hand-rolled fallback only for the pathological case where even a
		// flat map fails to marshal.
		return reply(`{"id":-1,"error":"encoding failure"}`)
	}
	return body
}
