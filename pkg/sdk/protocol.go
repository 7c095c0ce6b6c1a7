package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
)

// Commands of the line protocol. Each request is one line: the command, then
// space separated arguments, the last of which may be a JSON document.
// Replies are "OK", "OK <json>", "PONG" or "ERR <json>".
const (
	CmdPing           = "PING"
	CmdFetch          = "FETCH"
	CmdUpdate         = "UPDATE"
	CmdUsers          = "USERS"
	CmdUser           = "USER"
	CmdConnections    = "CONNECTIONS"
	CmdLog            = "LOG"
	CmdLogs           = "LOGS"
	CmdPutRecords     = "PUT_RECORDS"
	CmdPutUsers       = "PUT_USERS"
	CmdPutConnections = "PUT_CONNECTIONS"
	CmdQuit           = "QUIT"
)

// Error codes carried in ERR replies.
const (
	codeRecordNotFound = "record_not_found"
	codeUserNotFound   = "user_not_found"
	codeNotFound       = "not_found"
	codeWrite          = "write"
	codeInvalid        = "invalid"
	codeInternal       = "internal"
)

// ErrProtocol is returned for malformed requests or replies.
var ErrProtocol = errors.New("protocol error")

// WireError is the JSON body of an ERR reply.
type WireError struct {
	Code    string `json:"code"`
	Email   string `json:"email,omitempty"`
	Cause   string `json:"cause,omitempty"`
	Message string `json:"message"`
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrRecordNotFound):
		return codeRecordNotFound
	case errors.Is(err, engine.ErrUserNotFound):
		return codeUserNotFound
	case errors.Is(err, engine.ErrNotFound):
		return codeNotFound
	}
	return ""
}

// EncodeError turns a store error into its wire form.
func EncodeError(err error) WireError {
	var werr *engine.WriteError
	if errors.As(err, &werr) {
		return WireError{Code: codeWrite, Email: werr.Email, Cause: notFoundCode(werr.Err), Message: werr.Err.Error()}
	}
	if code := notFoundCode(err); code != "" {
		return WireError{Code: code, Message: err.Error()}
	}
	if errors.Is(err, ErrProtocol) {
		return WireError{Code: codeInvalid, Message: err.Error()}
	}
	return WireError{Code: codeInternal, Message: err.Error()}
}

func sentinel(code string) error {
	switch code {
	case codeRecordNotFound:
		return engine.ErrRecordNotFound
	case codeUserNotFound:
		return engine.ErrUserNotFound
	case codeNotFound:
		return engine.ErrNotFound
	}
	return nil
}

// Err rebuilds an error that errors.Is and errors.As match like the original.
func (w WireError) Err() error {
	switch w.Code {
	case codeWrite:
		cause := sentinel(w.Cause)
		if cause == nil {
			cause = errors.New(w.Message)
		}
		return &engine.WriteError{Email: w.Email, Err: cause}
	case codeInvalid:
		return fmt.Errorf("%w: %s", ErrProtocol, w.Message)
	}
	if s := sentinel(w.Code); s != nil {
		if w.Message == s.Error() {
			return s
		}
		return fmt.Errorf("%s: %w", w.Message, s)
	}
	return errors.New(w.Message)
}

// FormatReply renders a reply line without the trailing newline.
func FormatReply(v any, err error) string {
	if err != nil {
		body, _ := json.Marshal(EncodeError(err))
		return "ERR " + string(body)
	}
	if v == nil {
		return "OK"
	}
	body, merr := json.Marshal(v)
	if merr != nil {
		return FormatReply(nil, fmt.Errorf("encode reply: %w", merr))
	}
	return "OK " + string(body)
}

// ParseReply decodes a reply line into dst, which may be nil.
func ParseReply(line string, dst any) error {
	line = strings.TrimSpace(line)
	status, body, _ := strings.Cut(line, " ")
	switch status {
	case "OK", "PONG":
		if dst == nil || body == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(body), dst); err != nil {
			return fmt.Errorf("%w: decode reply: %v", ErrProtocol, err)
		}
		return nil
	case "ERR":
		var w WireError
		if err := json.Unmarshal([]byte(body), &w); err != nil {
			return fmt.Errorf("%w: %s", ErrProtocol, body)
		}
		return w.Err()
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrProtocol, line)
}
