// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package taskcluster implements the runner's view of the external
// artifact service: listing a task's artifacts and streaming one of them
// to a writer. Its wire format is fixed by the external service (§6 of the
// design); only the shapes below are part of this module's contract.
package taskcluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

// BuildArtifactName is the well-known path of the build artifact the
// runner downloads for every session.
const BuildArtifactName = "public/build/target.zip"

// Artifact describes one artifact belonging to a task.
type Artifact struct {
	Name    string    `json:"name"`
	Expires time.Time `json:"expires"`
}

// artifactsResponse is the shape returned by the artifacts-listing
// endpoint.
type artifactsResponse struct {
	Artifacts []Artifact `json:"artifacts"`
}

// ErrKind enumerates the ways an artifact-service call can fail.
type ErrKind int

const (
	// NotFound means no artifact with the requested name exists on the task.
	NotFound ErrKind = iota
	// Expired means the artifact was found but its Expires timestamp has
	// already passed.
	Expired
	// Http means the request failed for a reason other than a 404 on a
	// known endpoint (network error, unexpected status, bad body).
	Http
)

func (k ErrKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Expired:
		return "Expired"
	case Http:
		return "Http"
	default:
		return "Unknown"
	}
}

// Error is the structured failure type returned by Client methods.
type Error struct {
	Kind    ErrKind
	Expires time.Time
	Cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return "taskcluster: artifact not found"
	case Expired:
		return fmt.Sprintf("taskcluster: artifact expired at %s", e.Expires.Format(time.RFC3339))
	case Http:
		return fmt.Sprintf("taskcluster: request failed: %v", e.Cause)
	default:
		return "taskcluster: unknown error"
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// downloadBurstBytes bounds the token bucket used when streaming artifact
// bodies, mirroring the ambient stack's own throttled-writer burst cap.
const downloadBurstBytes = 256 * 1024

// Client consumes the artifact-service HTTP API described in §6: listing a
// task's artifacts and streaming one by name.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client rooted at baseURL (e.g.
// "https://queue.example.org/api/queue/v1/"). baseURL must end in a slash
// so relative joins behave predictably. If httpClient is nil,
// http.DefaultClient is used. If bytesPerSec is 0, artifact streaming is
// unthrottled.
func NewClient(baseURL string, httpClient *http.Client, bytesPerSec int64) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("taskcluster: parsing base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		burst := int(bytesPerSec)
		if burst > downloadBurstBytes {
			burst = downloadBurstBytes
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}

	return &Client{baseURL: u, httpClient: httpClient, limiter: limiter}, nil
}

// ListArtifacts fetches the artifact list for taskID.
func (c *Client) ListArtifacts(ctx context.Context, taskID string) ([]Artifact, error) {
	u := c.resolve("task", taskID, "artifacts")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: Http, Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: Http, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Kind: NotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: Http, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var parsed artifactsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: Http, Cause: fmt.Errorf("decoding artifacts response: %w", err)}
	}
	return parsed.Artifacts, nil
}

// FindBuildArtifact finds the well-known build artifact in artifacts and
// verifies it has not expired as of now. It never performs any network
// call itself; callers pass the already-fetched list.
func FindBuildArtifact(artifacts []Artifact, now time.Time) (Artifact, error) {
	for _, a := range artifacts {
		if a.Name != BuildArtifactName {
			continue
		}
		if !a.Expires.After(now) {
			return Artifact{}, &Error{Kind: Expired, Expires: a.Expires}
		}
		return a, nil
	}
	return Artifact{}, &Error{Kind: NotFound}
}

// StreamArtifact streams the named artifact of taskID into w. If the
// response declares a zstd Content-Encoding (the queue may proxy artifacts
// compressed), the body is transparently decompressed; otherwise the raw
// bytes are copied as-is. When the client was built with a nonzero rate
// limit, the copy is throttled to that rate.
func (c *Client) StreamArtifact(ctx context.Context, taskID, name string, w io.Writer) error {
	u := c.resolve("task", taskID, "artifacts", name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &Error{Kind: Http, Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: Http, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Error{Kind: NotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: Http, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "zstd" {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return &Error{Kind: Http, Cause: fmt.Errorf("initializing zstd decoder: %w", err)}
		}
		defer dec.Close()

		if _, err := io.Copy(w, throttledReader(ctx, dec.IOReadCloser(), c.limiter)); err != nil {
			return &Error{Kind: Http, Cause: err}
		}
		return nil
	}

	if _, err := io.Copy(w, throttledReader(ctx, body, c.limiter)); err != nil {
		return &Error{Kind: Http, Cause: err}
	}
	return nil
}

func (c *Client) resolve(segments ...string) *url.URL {
	u := *c.baseURL
	u.Path = path.Join(u.Path, path.Join(segments...))
	return &u
}
