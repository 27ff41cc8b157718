// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"testing"
)

func encodeDecode(t *testing.T, m Message) Message {
	t.Helper()

	var buf bytes.Buffer
	if err := m.writePayload(&buf); err != nil {
		t.Fatalf("writePayload: %v", err)
	}

	decode := decoders[m.Kind()]
	got, err := decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestHandshake_Payload(t *testing.T) {
	got := encodeDecode(t, Handshake{Restart: true}).(Handshake)
	if !got.Restart {
		t.Errorf("expected Restart=true")
	}

	got = encodeDecode(t, Handshake{Restart: false}).(Handshake)
	if got.Restart {
		t.Errorf("expected Restart=false")
	}
}

func TestHandshakeReply_Payload(t *testing.T) {
	got := encodeDecode(t, HandshakeReply{}).(HandshakeReply)
	if got.Err != nil {
		t.Errorf("expected nil Err, got %q", *got.Err)
	}

	got = encodeDecode(t, HandshakeReply{Err: strPtr("could not shutdown")}).(HandshakeReply)
	if got.Err == nil || *got.Err != "could not shutdown" {
		t.Errorf("expected Err %q, got %v", "could not shutdown", got.Err)
	}
}

func TestDownloadBuild_Payload(t *testing.T) {
	got := encodeDecode(t, DownloadBuild{TaskID: "foo"}).(DownloadBuild)
	if got.TaskID != "foo" {
		t.Errorf("expected TaskID %q, got %q", "foo", got.TaskID)
	}
}

func TestSendProfile_Payload(t *testing.T) {
	got := encodeDecode(t, SendProfile{}).(SendProfile)
	if got.ProfileSize != nil {
		t.Errorf("expected nil ProfileSize, got %v", *got.ProfileSize)
	}

	got = encodeDecode(t, SendProfile{ProfileSize: u64Ptr(42)}).(SendProfile)
	if got.ProfileSize == nil || *got.ProfileSize != 42 {
		t.Errorf("expected ProfileSize 42, got %v", got.ProfileSize)
	}
}

func TestSendProfileReply_Payload(t *testing.T) {
	tests := []struct {
		name string
		in   SendProfileReply
	}{
		{"no profile", SendProfileReply{}},
		{"downloading", SendProfileReply{Status: statusPtr(Downloading)}},
		{"downloaded", SendProfileReply{Status: statusPtr(Downloaded)}},
		{"extracted", SendProfileReply{Status: statusPtr(Extracted)}},
		{"error", SendProfileReply{Err: strPtr("disk full")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeDecode(t, tt.in).(SendProfileReply)

			if (tt.in.Err == nil) != (got.Err == nil) {
				t.Fatalf("Err presence mismatch: want %v, got %v", tt.in.Err, got.Err)
			}
			if tt.in.Err != nil && *tt.in.Err != *got.Err {
				t.Fatalf("Err mismatch: want %q, got %q", *tt.in.Err, *got.Err)
			}
			if (tt.in.Status == nil) != (got.Status == nil) {
				t.Fatalf("Status presence mismatch: want %v, got %v", tt.in.Status, got.Status)
			}
			if tt.in.Status != nil && *tt.in.Status != *got.Status {
				t.Fatalf("Status mismatch: want %s, got %s", *tt.in.Status, *got.Status)
			}
		})
	}
}
