package upstream

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// envelope is the {code, message, data} wrapper used by the official API.
// The aggregator returns either the same wrapper or a flat object.
type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

var errNotObject = errors.New("response is not a JSON object")

// unwrap validates body and returns the payload the decoders should read:
// data for a successful envelope, the body itself for a flat object.
func unwrap(candidate string, body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &FetchError{Candidate: candidate, Kind: KindDecode, Err: errNotObject}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &FetchError{Candidate: candidate, Kind: KindDecode, Err: err}
	}

	if isNull(env.Code) {
		return trimmed, nil
	}

	code := codeString(env.Code)
	if !successCode(code) {
		msg := env.Message
		if msg == "" {
			msg = env.Msg
		}
		return nil, &FetchError{
			Candidate: candidate,
			Kind:      KindEnvelope,
			Code:      code,
			Message:   msg,
		}
	}

	if isNull(env.Data) {
		return trimmed, nil
	}
	return env.Data, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// codeString renders a numeric or string code as plain text.
func codeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func successCode(code string) bool {
	if n, err := strconv.Atoi(code); err == nil {
		return n == 0 || n == 200
	}
	switch strings.ToLower(code) {
	case "ok", "success":
		return true
	}
	return false
}
