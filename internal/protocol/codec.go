// Copyright (c) 2025 Mozilla Corporation. All rights reserved.
// Use of this source code is governed by the Mozilla Public License, v. 2.0,
// that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Codec frames messages over a net.Conn: [len uint32 BE][kind byte][payload].
// len counts the kind byte plus the payload. Codec reads exactly one frame
// at a time and keeps no look-ahead buffer, so handing the connection back
// via Raw and later wrapping it in a fresh Codec is always safe at a frame
// boundary.
type Codec struct {
	conn net.Conn
}

// NewCodec wraps conn in a Codec.
func NewCodec(conn net.Conn) *Codec {
	return &Codec{conn: conn}
}

// Raw returns the underlying connection for the raw-bytes phase of §4.6. No
// buffered bytes are lost: the codec never reads past a frame's declared
// length.
func (c *Codec) Raw() net.Conn { return c.conn }

// Send writes one complete frame for m. The frame is assembled in memory
// first and flushed with a single Write, so no partial frame is ever
// observable by the peer.
func (c *Codec) Send(ctx context.Context, m Message) error {
	var body bytes.Buffer
	body.WriteByte(byte(m.Kind()))
	if err := m.writePayload(&body); err != nil {
		return decodeError(fmt.Errorf("encoding %s payload: %w", m.Kind(), err))
	}

	var frame bytes.Buffer
	if err := binary.Write(&frame, binary.BigEndian, uint32(body.Len())); err != nil {
		return decodeError(err)
	}
	frame.Write(body.Bytes())

	applyWriteDeadline(ctx, c.conn)
	defer clearWriteDeadline(c.conn)

	if _, err := c.conn.Write(frame.Bytes()); err != nil {
		return ioError(err)
	}
	return nil
}

// RecvExpecting reads one complete frame and decodes it as the variant
// tagged by kind. A clean close before the length prefix is fully read
// yields EndOfStream; a tag mismatch yields UnexpectedKind; a malformed
// payload yields Decode; any other transport failure yields Io.
func (c *Codec) RecvExpecting(ctx context.Context, kind Kind) (Message, error) {
	applyReadDeadline(ctx, c.conn)
	defer clearReadDeadline(c.conn)

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, endOfStreamError()
		}
		return nil, ioError(err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, decodeError(errors.New("protocol: zero-length frame"))
	}
	if n > maxFrameLen {
		return nil, decodeError(errFrameTooLarge)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, endOfStreamError()
		}
		return nil, ioError(err)
	}

	received := Kind(body[0])
	if received != kind {
		return nil, unexpectedKindError(kind, received)
	}

	decode, ok := decoders[received]
	if !ok {
		return nil, decodeError(fmt.Errorf("protocol: no decoder registered for kind %s", received))
	}

	msg, err := decode(bytes.NewReader(body[1:]))
	if err != nil {
		return nil, decodeError(err)
	}
	return msg, nil
}

func applyReadDeadline(ctx context.Context, conn net.Conn) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	}
}

func clearReadDeadline(conn net.Conn) {
	conn.SetReadDeadline(time.Time{})
}

func applyWriteDeadline(ctx context.Context, conn net.Conn) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
}

func clearWriteDeadline(conn net.Conn) {
	conn.SetWriteDeadline(time.Time{})
}
