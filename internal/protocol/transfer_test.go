// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
)

func TestCopyExactly_ExactLength(t *testing.T) {
	payload := make([]byte, transferChunkSize*3+17)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	var dst bytes.Buffer
	src := bytes.NewReader(payload)

	if err := CopyExactly(context.Background(), &dst, src, uint64(len(payload))); err != nil {
		t.Fatalf("CopyExactly: %v", err)
	}

	if !bytes.Equal(dst.Bytes(), payload) {
		t.Errorf("dst does not equal payload: got %d bytes, want %d", dst.Len(), len(payload))
	}
}

func TestCopyExactly_Truncated(t *testing.T) {
	src := bytes.NewReader([]byte("short"))
	var dst bytes.Buffer

	err := CopyExactly(context.Background(), &dst, src, 100)
	if err == nil {
		t.Fatal("expected error for truncated source")
	}
}

func TestCopyExactly_ZeroLength(t *testing.T) {
	var dst bytes.Buffer
	if err := CopyExactly(context.Background(), &dst, bytes.NewReader(nil), 0); err != nil {
		t.Fatalf("CopyExactly: %v", err)
	}
	if dst.Len() != 0 {
		t.Errorf("expected empty dst, got %d bytes", dst.Len())
	}
}
