// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package taskcluster

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitedReader is an io.Reader wrapping a token-bucket limiter, the
// read-side counterpart of the ambient stack's own ThrottledWriter.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// throttledReader returns r unchanged when limiter is nil (no throttling
// configured), otherwise wraps it so reads block to respect limiter's rate.
func throttledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &rateLimitedReader{ctx: ctx, r: r, limiter: limiter}
}

// Read reads into p, splitting the request to the limiter's burst size so a
// single large read cannot reserve more tokens than the bucket can hold.
func (rr *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > rr.limiter.Burst() {
		p = p[:rr.limiter.Burst()]
	}

	n, err := rr.r.Read(p)
	if n > 0 {
		if werr := rr.limiter.WaitN(rr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
