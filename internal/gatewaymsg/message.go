// Package gatewaymsg defines the message schema shared by the request
// queue, the proxy that enqueues messages, and the worker that drains
// them.
package gatewaymsg

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue names. request_queue and response_queue are carried only in
// status reports for historical reasons; Main and DeadLetter are the
// only queues actually pushed to and popped from.
const (
	Main       = "main"
	DeadLetter = "dead_letter"
)

// Mutating reports whether method is one of the methods the main
// queue is allowed to carry (POST, PUT, DELETE).
func Mutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Priority derives an observability-only priority from an HTTP
// method. It does not affect queue ordering.
func Priority(method string) int {
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return 1
	case http.MethodPut:
		return 2
	case http.MethodPost:
		return 3
	case http.MethodDelete:
		return 4
	default:
		return 0
	}
}

// Message is the canonical unit stored in the main and dead-letter
// queues.
type Message struct {
	ID                string                 `json:"id"`
	Timestamp         time.Time              `json:"timestamp"`
	Service           string                 `json:"service"`
	Endpoint          string                 `json:"endpoint"`
	Method            string                 `json:"method"`
	Data              map[string]interface{} `json:"data,omitempty"`
	Headers           map[string]string      `json:"headers,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	MaxRetries        int                    `json:"max_retries"`
	Priority          int                    `json:"priority"`
	UserID            string                 `json:"user_id,omitempty"`
	SessionID         string                 `json:"session_id,omitempty"`
	IPAddress         string                 `json:"ip_address,omitempty"`
	UserAgent         string                 `json:"user_agent,omitempty"`
	RequestID         string                 `json:"request_id,omitempty"`
	DeadLetterAt      *time.Time             `json:"dead_letter_timestamp,omitempty"`
}

// DefaultMaxRetries is the MaxRetries value New gives every message.
const DefaultMaxRetries = 3

// NewParams carries the request-derived fields used to build a
// Message at enqueue time.
type NewParams struct {
	Service        string
	Endpoint       string
	Method         string
	Data           map[string]interface{}
	Headers        map[string]string
	IPAddress      string
	UserAgent      string
	RequestID      string
	Authorization  string
	XRequestedWith string
	Now            time.Time
}

// New builds a Message for the main queue from a live request,
// assigning a fresh id and deriving correlation fields per spec.
func New(p NewParams) Message {
	maxRetries := DefaultMaxRetries
	method := strings.ToUpper(p.Method)
	return Message{
		ID:         uuid.NewString(),
		Timestamp:  p.Now,
		Service:    p.Service,
		Endpoint:   p.Endpoint,
		Method:     method,
		Data:       p.Data,
		Headers:    p.Headers,
		RetryCount: 0,
		MaxRetries: maxRetries,
		Priority:   Priority(method),
		UserID:     deriveUserID(p.Authorization),
		SessionID:  deriveSessionID(p.IPAddress, p.UserAgent, p.XRequestedWith, p.Now),
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		RequestID:  p.RequestID,
	}
}

// deriveSessionID builds the correlation-only identifier described in
// spec.md §4.3: SHA-256(ip‖user_agent‖X-Requested-With‖unix_seconds).
// Wall-clock second granularity means two requests from the same
// client within one second collide; this is an accepted observability
// limitation, not a correctness bug (spec.md §9).
func deriveSessionID(ip, userAgent, xRequestedWith string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(ip))
	h.Write([]byte(userAgent))
	h.Write([]byte(xRequestedWith))
	fmt.Fprintf(h, "%d", now.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// deriveUserID hashes the full Authorization header into an opaque
// correlation id (spec.md §4.3: user_id = SHA-256(authorization_header)).
// It is empty when no Authorization header was present; the gateway
// never stores the raw header value.
func deriveUserID(authorization string) string {
	if authorization == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(authorization))
	return hex.EncodeToString(sum[:])
}
