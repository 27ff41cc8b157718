// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Message is implemented by every concrete frame payload. kind identifies
// the wire tag; writePayload appends the encoded payload (without the
// length prefix or kind byte, which Codec.Send adds).
type Message interface {
	Kind() Kind
	writePayload(buf *bytes.Buffer) error
}

// Handshake is sent Recorder -> Runner. If Restart is true the runner must
// initiate a restart before replying.
type Handshake struct {
	Restart bool
}

func (Handshake) Kind() Kind { return KindHandshake }

func (m Handshake) writePayload(buf *bytes.Buffer) error {
	var b byte
	if m.Restart {
		b = 1
	}
	return buf.WriteByte(b)
}

func decodeHandshake(r *bytes.Reader) (Message, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading handshake restart flag: %w", err)
	}
	return Handshake{Restart: b != 0}, nil
}

// HandshakeReply is sent Runner -> Recorder. Err is nil on success, or the
// stringified restart-capability failure on error.
type HandshakeReply struct {
	Err *string
}

func (HandshakeReply) Kind() Kind { return KindHandshakeReply }

func (m HandshakeReply) writePayload(buf *bytes.Buffer) error {
	return writeResult(buf, m.Err)
}

func decodeHandshakeReply(r *bytes.Reader) (Message, error) {
	errMsg, err := readResult(r)
	if err != nil {
		return nil, fmt.Errorf("reading handshake reply: %w", err)
	}
	return HandshakeReply{Err: errMsg}, nil
}

// DownloadBuild is sent Recorder -> Runner, naming the artifact-service task
// whose build the runner should fetch.
type DownloadBuild struct {
	TaskID string
}

func (DownloadBuild) Kind() Kind { return KindDownloadBuild }

func (m DownloadBuild) writePayload(buf *bytes.Buffer) error {
	return writeString(buf, m.TaskID)
}

func decodeDownloadBuild(r *bytes.Reader) (Message, error) {
	taskID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading download_build task id: %w", err)
	}
	return DownloadBuild{TaskID: taskID}, nil
}

// DownloadBuildReply is sent Runner -> Recorder. Err is nil once the build
// has been fully fetched and extracted locally.
type DownloadBuildReply struct {
	Err *string
}

func (DownloadBuildReply) Kind() Kind { return KindDownloadBuildReply }

func (m DownloadBuildReply) writePayload(buf *bytes.Buffer) error {
	return writeResult(buf, m.Err)
}

func decodeDownloadBuildReply(r *bytes.Reader) (Message, error) {
	errMsg, err := readResult(r)
	if err != nil {
		return nil, fmt.Errorf("reading download_build reply: %w", err)
	}
	return DownloadBuildReply{Err: errMsg}, nil
}

// SendProfile is sent Recorder -> Runner. A nil ProfileSize means no
// profile is sent this session; a non-nil value announces that exactly
// that many raw bytes follow the runner's Downloading reply.
type SendProfile struct {
	ProfileSize *uint64
}

func (SendProfile) Kind() Kind { return KindSendProfile }

func (m SendProfile) writePayload(buf *bytes.Buffer) error {
	if m.ProfileSize == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, *m.ProfileSize)
}

func decodeSendProfile(r *bytes.Reader) (Message, error) {
	has, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading send_profile presence flag: %w", err)
	}
	if has == 0 {
		return SendProfile{}, nil
	}
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("reading send_profile size: %w", err)
	}
	return SendProfile{ProfileSize: &n}, nil
}

// SendProfileReply is sent Runner -> Recorder, once per status transition.
// Err is nil on success; Status is nil when no profile was sent, otherwise
// one of Downloading, Downloaded, Extracted for the three replies required
// in that order.
type SendProfileReply struct {
	Err    *string
	Status *DownloadStatus
}

func (SendProfileReply) Kind() Kind { return KindSendProfileReply }

func (m SendProfileReply) writePayload(buf *bytes.Buffer) error {
	if m.Err != nil {
		if err := buf.WriteByte(1); err != nil {
			return err
		}
		return writeString(buf, *m.Err)
	}
	if err := buf.WriteByte(0); err != nil {
		return err
	}
	if m.Status == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	return buf.WriteByte(byte(*m.Status))
}

func decodeSendProfileReply(r *bytes.Reader) (Message, error) {
	isErr, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading send_profile reply result flag: %w", err)
	}
	if isErr != 0 {
		msg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading send_profile reply error: %w", err)
		}
		return SendProfileReply{Err: &msg}, nil
	}
	hasStatus, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading send_profile reply status flag: %w", err)
	}
	if hasStatus == 0 {
		return SendProfileReply{}, nil
	}
	s, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading send_profile reply status: %w", err)
	}
	status := DownloadStatus(s)
	return SendProfileReply{Status: &status}, nil
}

// decoders maps each Kind to the function that parses its payload.
var decoders = map[Kind]func(*bytes.Reader) (Message, error){
	KindHandshake:          decodeHandshake,
	KindHandshakeReply:     decodeHandshakeReply,
	KindDownloadBuild:      decodeDownloadBuild,
	KindDownloadBuildReply: decodeDownloadBuildReply,
	KindSendProfile:        decodeSendProfile,
	KindSendProfileReply:   decodeSendProfileReply,
}

// writeResult encodes a Result<(), ForeignError>-shaped payload: a 1-byte
// flag followed by the error string when present.
func writeResult(buf *bytes.Buffer, errMsg *string) error {
	if errMsg == nil {
		return buf.WriteByte(0)
	}
	if err := buf.WriteByte(1); err != nil {
		return err
	}
	return writeString(buf, *errMsg)
}

// readResult decodes a Result<(), ForeignError>-shaped payload written by
// writeResult.
func readResult(r *bytes.Reader) (*string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, nil
	}
	msg, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// writeString encodes a length-prefixed UTF-8 string: a uint32 big-endian
// byte count followed by the raw bytes.
func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// readString decodes a string written by writeString.
func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
