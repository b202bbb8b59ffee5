// Package faults maps raw failures onto the stable error taxonomy used in
// LocationResult and BatchResult. Raw errors never cross the batch boundary;
// they are classified here and surfaced as structured fields.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is one value of the error taxonomy.
type Kind string

const (
	WeatherFetch      Kind = "weather_fetch"
	DataAccess        Kind = "data_access"
	CacheError        Kind = "cache_error"
	LLMError          Kind = "llm_error"
	ValidationError   Kind = "validation_error"
	ParsingError      Kind = "parsing_error"
	ConfigError       Kind = "config_error"
	MissingCredential Kind = "missing_credential"
	NetworkError      Kind = "network_error"
	TimeoutError      Kind = "timeout_error"
	APIError          Kind = "api_error"
	RateLimitError    Kind = "rate_limit_error"
	APIResponseError  Kind = "api_response_error"
	FileIOError       Kind = "file_io_error"
	LocationNotFound  Kind = "location_not_found"
	CommentGeneration Kind = "comment_generation_error"
	MissingData       Kind = "missing_data_error"
	SystemError       Kind = "system_error"
	Unknown           Kind = "unknown_error"
)

// Fault tags an underlying error with a taxonomy kind and the operation
// that produced it.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified fault from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy kind of err. Explicitly tagged faults win;
// everything else goes through Classify.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Classify(err)
}

// Classify maps an untagged error to a taxonomy kind by type and message
// substrings. Substring rules mirror the pipeline classification table.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	if errors.Is(err, context.Canceled) {
		return TimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return TimeoutError
		}
		return NetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return RateLimitError
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return TimeoutError
	case strings.Contains(msg, "weather"), strings.Contains(msg, "forecast"):
		return WeatherFetch
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return NetworkError
	case strings.Contains(msg, "llm"), strings.Contains(msg, "generation failed"), strings.Contains(msg, "generate"):
		return LLMError
	case strings.Contains(msg, "validation"):
		return ValidationError
	case strings.Contains(msg, "parse"), strings.Contains(msg, "unmarshal"), strings.Contains(msg, "decode"):
		return ParsingError
	case strings.Contains(msg, "partition"), strings.Contains(msg, "csv"), strings.Contains(msg, "comment"):
		return DataAccess
	case strings.Contains(msg, "permission"), strings.Contains(msg, "no such file"):
		return FileIOError
	default:
		return Unknown
	}
}

// Retriable reports whether a kind is worth retrying at the transport layer.
func Retriable(kind Kind) bool {
	switch kind {
	case NetworkError, TimeoutError, APIError:
		return true
	}
	return false
}
