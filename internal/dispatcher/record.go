package dispatcher

import (
	"fmt"
	"strconv"
	"time"
)

// FailureKind classifies an unsuccessful dispatch.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureHTTP        FailureKind = "http_status"
	FailureTimeout     FailureKind = "timeout"
	FailureConnRefused FailureKind = "connection_refused"
	FailureDNS         FailureKind = "dns"
	FailureNetwork     FailureKind = "network"
	FailureRequest     FailureKind = "request"
	// FailureCanceled marks a dispatch interrupted by the run itself; such
	// records are discarded rather than counted.
	FailureCanceled FailureKind = "canceled"
)

// Record is the outcome of one request. It is immutable once returned.
type Record struct {
	Template        string
	Method          string
	URL             string
	StatusCode      int
	Failure         FailureKind
	Latency         time.Duration
	Timestamp       time.Time
	Error           string
	ResponseBody    string            // verbose only
	ResponseHeaders map[string]string // verbose only
	RequestBody     string            // request capture only
	Values          map[string]string // request capture only
}

// Success reports whether the request counts as successful.
func (r Record) Success() bool { return r.Failure == FailureNone }

// Canceled reports whether the dispatch was interrupted by the run.
func (r Record) Canceled() bool { return r.Failure == FailureCanceled }

// StatusLabel returns the status code, or the failure kind when no response
// was received.
func (r Record) StatusLabel() string {
	if r.StatusCode > 0 {
		return strconv.Itoa(r.StatusCode)
	}
	if r.Failure != FailureNone {
		return string(r.Failure)
	}
	return "unknown"
}

// Err returns the dispatch failure as an error, or nil on success.
func (r Record) Err() error {
	if r.Success() {
		return nil
	}
	return &DispatchError{Kind: r.Failure, StatusCode: r.StatusCode, Message: r.Error}
}

// DispatchError describes a failed request.
type DispatchError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
}

func (e *DispatchError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Kind == FailureHTTP {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return string(e.Kind)
}
