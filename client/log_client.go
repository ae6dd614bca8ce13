// Copyright 2024 Rektor Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client talks to the REST API of a Rekor transparency log server.
//
// The client only fetches data; it performs no verification. Everything it
// returns is untrusted until the audit package has recomputed and compared
// the relevant hashes locally.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/rektor-dev/rektor/client/backoff"
	"github.com/rektor-dev/rektor/monitoring"
)

// DefaultBaseURL is the API base of the public Sigstore Rekor instance.
const DefaultBaseURL = "https://rekor.sigstore.dev/api/v1"

// maxResponseBytes bounds how much of a response body is read, so that a
// misbehaving server cannot exhaust memory.
const maxResponseBytes = 64 << 20

var (
	metricsOnce    sync.Once
	reqsCounter    monitoring.Counter
	reqLatency     monitoring.Histogram
	retriesCounter monitoring.Counter
)

func initMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		reqsCounter = mf.NewCounter("rekor_requests", "Number of requests made to the log server", "path", "status")
		reqLatency = mf.NewHistogram("rekor_request_latency_seconds", "Latency of log server requests", "path")
		retriesCounter = mf.NewCounter("rekor_request_retries", "Number of request retries", "path")
	})
}

// Options holds optional parameters for New.
type Options struct {
	// Timeout bounds each individual HTTP request. Defaults to 10s.
	Timeout time.Duration
	// Backoff configures retries of transient request failures.
	// Defaults to {Min: 100ms, Max: 5s, Factor: 2, Jitter: true}.
	Backoff *backoff.Backoff
	// HTTPClient overrides the transport. Its Timeout is ignored in favor
	// of the Timeout field above.
	HTTPClient *http.Client
	// MetricFactory is used to instrument the client. The metrics are
	// registered once per process, so the factory passed to the first
	// constructed client wins and later values are ignored.
	// Defaults to monitoring.InertMetricFactory.
	MetricFactory monitoring.MetricFactory
}

// LogClient fetches entries, checkpoints and proofs from a Rekor log server.
// The base URL is fixed at construction; there is no process-wide default.
// Safe for concurrent use.
type LogClient struct {
	baseURL string
	hc      *http.Client
	timeout time.Duration
	bo      backoff.Backoff
}

// New returns a LogClient for the log server at the given base URL, which
// must include the API prefix, e.g. https://rekor.sigstore.dev/api/v1.
func New(baseURL string, opts Options) (*LogClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %v", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	c := &LogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      opts.HTTPClient,
		timeout: opts.Timeout,
		bo:      backoff.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true},
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if opts.Backoff != nil {
		c.bo = *opts.Backoff
	}

	mf := opts.MetricFactory
	if mf == nil {
		mf = monitoring.InertMetricFactory{}
	}
	initMetrics(mf)

	return c, nil
}

// BaseURL returns the API base URL the client was constructed with.
func (c *LogClient) BaseURL() string {
	return c.baseURL
}

// GetLogEntry fetches the log entry at the given index, including the
// server's bundled inclusion proof material.
func (c *LogClient) GetLogEntry(ctx context.Context, logIndex int64) (*LogEntry, error) {
	if logIndex < 0 {
		return nil, fmt.Errorf("invalid log index %d", logIndex)
	}

	var resp map[string]logEntryAnon
	if err := c.getJSON(ctx, "/log/entries", url.Values{"logIndex": []string{fmt.Sprint(logIndex)}}, &resp); err != nil {
		return nil, err
	}
	if got := len(resp); got != 1 {
		return nil, fmt.Errorf("server returned %d entries for log index %d, want 1", got, logIndex)
	}
	for uuid, e := range resp {
		return &LogEntry{
			UUID:           uuid,
			Body:           e.Body,
			IntegratedTime: e.IntegratedTime,
			LogID:          e.LogID,
			LogIndex:       e.LogIndex,
			Verification:   e.Verification,
		}, nil
	}
	panic("unreachable")
}

// GetLatestCheckpoint fetches the log's current state.
func (c *LogClient) GetLatestCheckpoint(ctx context.Context) (*LogInfo, error) {
	var info LogInfo
	if err := c.getJSON(ctx, "/log", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetConsistencyProof fetches the consistency proof between the two given
// tree sizes.
func (c *LogClient) GetConsistencyProof(ctx context.Context, firstSize, lastSize int64) (*ConsistencyProof, error) {
	if firstSize < 1 || lastSize < firstSize {
		return nil, fmt.Errorf("invalid proof range [%d, %d]", firstSize, lastSize)
	}

	q := url.Values{
		"firstSize": []string{fmt.Sprint(firstSize)},
		"lastSize":  []string{fmt.Sprint(lastSize)},
	}
	var proof ConsistencyProof
	if err := c.getJSON(ctx, "/log/proof", q, &proof); err != nil {
		return nil, err
	}
	return &proof, nil
}

// statusError reports a non-2xx response from the server.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned HTTP %d: %s", e.status, strings.TrimSpace(e.body))
}

// retriable reports whether a request error is worth retrying: transport
// failures (including per-request timeouts) and server-side (5xx) statuses
// are, client-side statuses and response decoding failures are not. If the
// caller's context is done, the retry loop stops regardless.
func retriable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// getJSON issues a GET request for path with the given query values, retrying
// transient failures, and decodes the response body into out.
func (c *LogClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	bo := c.bo // Copy, so concurrent calls don't share backoff state.
	attempt := 0
	err := bo.Retry(ctx, func() error {
		attempt++
		if attempt > 1 {
			retriesCounter.Inc(path)
		}
		return c.getJSONOnce(ctx, path, u, out)
	}, retriable)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u, err)
	}
	return nil
}

func (c *LogClient) getJSONOnce(ctx context.Context, path, u string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	reqLatency.Observe(time.Since(start).Seconds(), path)
	if err != nil {
		reqsCounter.Inc(path, "error")
		klog.V(1).Infof("GET %s: %v", u, err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	reqsCounter.Inc(path, fmt.Sprint(resp.StatusCode))
	klog.V(1).Infof("GET %s: HTTP %d", u, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{status: resp.StatusCode, body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response: %v", err)
	}
	return nil
}
