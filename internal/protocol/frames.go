// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

// Package protocol implements the binary fxrecord wire protocol used between
// the recorder and the runner: a length-prefixed, kind-tagged frame codec
// (codec.go), the directional message set (messages.go), the typed error
// taxonomy (errors.go), and the raw byte phase embedded in SendProfile
// (transfer.go).
package protocol

import "errors"

// Kind identifies the concrete message variant carried by a frame. Kinds are
// assigned once and never reused; a mismatch between the kind a caller
// expects and the kind actually on the wire is always fatal for the session.
type Kind byte

const (
	KindHandshake Kind = iota + 1
	KindHandshakeReply
	KindDownloadBuild
	KindDownloadBuildReply
	KindSendProfile
	KindSendProfileReply
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindHandshakeReply:
		return "HandshakeReply"
	case KindDownloadBuild:
		return "DownloadBuild"
	case KindDownloadBuildReply:
		return "DownloadBuildReply"
	case KindSendProfile:
		return "SendProfile"
	case KindSendProfileReply:
		return "SendProfileReply"
	default:
		return "Unknown"
	}
}

// DownloadStatus is the progress marker a runner reports while ingesting a
// profile upload. The recorder must observe these in strictly increasing
// order: Downloading, then Downloaded, then Extracted.
type DownloadStatus byte

const (
	Downloading DownloadStatus = iota
	Downloaded
	Extracted
)

func (s DownloadStatus) String() string {
	switch s {
	case Downloading:
		return "Downloading"
	case Downloaded:
		return "Downloaded"
	case Extracted:
		return "Extracted"
	default:
		return "Unknown"
	}
}

// maxFrameLen bounds the length prefix so a corrupt or malicious peer cannot
// make a recv block on an effectively unbounded allocation.
const maxFrameLen = 64 * 1024 * 1024

// transferChunkSize is the chunk size used when copying the raw profile
// byte stream, matching the ambient stack's own streaming buffer size.
const transferChunkSize = 256 * 1024

var errFrameTooLarge = errors.New("protocol: frame exceeds maximum length")
