// Package analyzer is the HTTP client for the remote vulnerability
// analyzer. Responses stream back as newline-delimited JSON: progress
// lines while the analysis runs, then a single terminal result or error
// line.
package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a full analysis run.
const DefaultTimeout = 4 * time.Minute

// Vulnerability summarizes the worst finding of an analysis.
type Vulnerability struct {
	Level   string `json:"level"` // none, low, medium, high, critical
	Summary string `json:"summary,omitempty"`
}

// Critical reports whether the analysis blocks installation.
func (v *Vulnerability) Critical() bool {
	return v != nil && v.Level == "critical"
}

// DependencyStep is one native-dependency installation the skill needs.
type DependencyStep struct {
	Manager  string   `json:"manager"` // currently always "brew"
	Formula  string   `json:"formula"`
	Binaries []string `json:"binaries,omitempty"`
}

// Finding is one analyzer observation.
type Finding struct {
	Severity string `json:"severity"`
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	File     string `json:"file,omitempty"`
}

// Analysis is the terminal analyzer result for a skill bundle.
type Analysis struct {
	Slug          string           `json:"slug"`
	Source        string           `json:"source,omitempty"`
	Vulnerability *Vulnerability   `json:"vulnerability,omitempty"`
	Dependencies  []DependencyStep `json:"dependencies,omitempty"`
	Findings      []Finding        `json:"findings,omitempty"`
	AnalyzedAt    time.Time        `json:"analyzedAt"`
}

// Client talks to the analyzer endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New returns a client for the analyzer at baseURL.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: http.DefaultClient, Timeout: DefaultTimeout}
}

// streamLine is one NDJSON frame from the analyzer.
type streamLine struct {
	Type     string          `json:"type"` // progress, result, error
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
}

type analyzeRequest struct {
	Slug   string `json:"slug"`
	Source string `json:"source"`
}

// Analyze runs a remote analysis of slug. Progress lines are forwarded to
// onProgress (which may be nil); the terminal result line becomes the
// returned Analysis. An error line, a missing terminal line, or a non-2xx
// status all fail the analysis with the upstream detail.
func (c *Client) Analyze(ctx context.Context, slug, source string, onProgress func(string)) (*Analysis, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("analyzer: no endpoint configured")
	}

	body, err := json.Marshal(analyzeRequest{Slug: slug, Source: source})
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyzer: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame streamLine
		if err := json.Unmarshal(line, &frame); err != nil {
			return nil, fmt.Errorf("analyzer: malformed stream line: %w", err)
		}
		switch frame.Type {
		case "progress":
			if onProgress != nil {
				onProgress(frame.Message)
			}
		case "error":
			return nil, fmt.Errorf("analyzer: %s", frame.Error)
		case "result":
			var a Analysis
			if err := json.Unmarshal(frame.Analysis, &a); err != nil {
				return nil, fmt.Errorf("analyzer: malformed result: %w", err)
			}
			if a.Slug == "" {
				a.Slug = slug
			}
			if a.AnalyzedAt.IsZero() {
				a.AnalyzedAt = time.Now()
			}
			return &a, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("analyzer: reading stream: %w", err)
	}
	return nil, fmt.Errorf("analyzer: stream ended without a result")
}
