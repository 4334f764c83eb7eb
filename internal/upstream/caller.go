// Package upstream implements the single HTTP call shape shared by
// the direct proxy path (spec.md §4.3) and the worker's drain/retry
// path (spec.md §4.5): compose "<base>/api<endpoint>", forward
// filtered headers, relay the upstream's status code and JSON body
// verbatim.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// Result is the relayed upstream outcome.
type Result struct {
	StatusCode int
	Body       []byte
}

// Caller issues the composed upstream call with an explicit timeout.
type Caller struct {
	client *http.Client
}

// NewCaller builds a Caller whose requests are bounded by timeout
// (30s per spec.md §4.3/§4.5).
func NewCaller(timeout time.Duration) *Caller {
	return &Caller{client: &http.Client{Timeout: timeout}}
}

// headersToStrip are removed before forwarding; content-type is
// defaulted rather than stripped.
var headersToStrip = map[string]bool{
	"host":           true,
	"content-length": true,
}

// FilterHeaders copies in, dropping host/content-length, and
// defaulting content-type to application/json when absent.
func FilterHeaders(in map[string]string) http.Header {
	out := make(http.Header, len(in)+1)
	hasContentType := false
	for k, v := range in {
		lk := strings.ToLower(k)
		if headersToStrip[lk] {
			continue
		}
		if lk == "content-type" {
			hasContentType = true
		}
		out.Set(k, v)
	}
	if !hasContentType {
		out.Set("Content-Type", "application/json")
	}
	return out
}

// Call composes "<base>/api<endpoint>", sends method with the given
// headers and JSON-encoded payload (nil payload sends no body), and
// relays the upstream's status code and raw body.
func Call(ctx context.Context, caller *Caller, base, endpoint, method string, headers map[string]string, payload interface{}) (Result, error) {
	url := strings.TrimSuffix(base, "/") + "/api" + endpoint

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Result{}, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Result{}, err
	}
	req.Header = FilterHeaders(headers)

	resp, err := caller.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}

	return Result{StatusCode: resp.StatusCode, Body: body}, nil
}
