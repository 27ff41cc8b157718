// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// CopyExactly copies exactly n bytes from src to dst, the raw-bytes phase
// embedded in SendProfile between the Downloading and Downloaded replies
// (§4.6). It has no framing, checksum, or length re-announcement of its
// own: the length was already agreed in the preceding SendProfile message.
// The copy is chunked so ctx cancellation is observed between chunks rather
// than only after the whole transfer completes.
func CopyExactly(ctx context.Context, dst io.Writer, src io.Reader, n uint64) error {
	remaining := n
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return ioError(err)
		}

		chunk := uint64(transferChunkSize)
		if chunk > remaining {
			chunk = remaining
		}

		written, err := io.CopyN(dst, src, int64(chunk))
		remaining -= uint64(written)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ioError(fmt.Errorf("raw phase truncated: %d of %d bytes received: %w", n-remaining, n, err))
			}
			return ioError(err)
		}
	}
	return nil
}
