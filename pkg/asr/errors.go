package asr

import (
	"errors"
	"fmt"
)

// CodeFailure is the only code carried by RecognitionError today.
const CodeFailure = "FAILURE"

// RecognitionError is returned for usage errors and result timeouts.
type RecognitionError struct {
	Code    string
	Message string
	Err     error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asr %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("asr %s: %s", e.Code, e.Message)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

func failure(msg string, err error) *RecognitionError {
	return &RecognitionError{Code: CodeFailure, Message: msg, Err: err}
}

// IsFailure reports whether err is a RecognitionError with code FAILURE.
func IsFailure(err error) bool {
	var recErr *RecognitionError
	return errors.As(err, &recErr) && recErr.Code == CodeFailure
}

// ProtocolError describes a server response that aborted the session. It is
// delivered to Listener.OnError.
type ProtocolError struct {
	Method    string
	Result    string
	Status    string
	ErrorCode string
	Message   string
}

func (e *ProtocolError) Error() string {
	msg := "asr protocol error"
	if e.Method != "" {
		msg += " on " + e.Method
	}
	if e.ErrorCode != "" {
		msg += ": code " + e.ErrorCode
	}
	if e.Result != "" {
		msg += ": result " + e.Result
	}
	if e.Status != "" {
		msg += ": status " + e.Status
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

var (
	errNotConnected = errors.New("asr connection not ready")
	errEmptyURL     = errors.New("asr server url is empty")
)
