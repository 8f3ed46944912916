// Package protocol implements the framed-message wire codec: a leading
// kind byte followed by variable-length unsigned integers and
// length-prefixed byte arrays, with no JSON at the outer layer. Sync
// messages carry a further step byte; custom control messages carry a
// UTF-8 JSON payload. This mirrors the kind/step split a plain
// message-type-constant collaboration layer would encode
// (MessageTypeSync=0, MessageTypeSyncUpdate=1, MessageTypeAwareness,
// MessageTypeJoin/Leave), generalized into one self-describing binary
// envelope instead of several ad-hoc JSON shapes.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"collabfs/internal/model"
)

// Kind is the top-level frame discriminator.
type Kind byte

const (
	KindSync      Kind = 0
	KindAwareness Kind = 1
	KindCustom    Kind = 2
)

// SyncStep distinguishes the three sync sub-messages carried inside a
// KindSync frame.
type SyncStep byte

const (
	// SyncStepVector carries state-vector bytes: "I have up to here".
	SyncStepVector SyncStep = 0
	// SyncStepAnswer carries update bytes answering a SyncStepVector.
	SyncStepAnswer SyncStep = 1
	// SyncStepUpdate carries a new incremental update.
	SyncStepUpdate SyncStep = 2
)

// Frame is one decoded wire message. Only the fields relevant to Kind are
// meaningful: SyncStep and Payload for KindSync, Payload alone for
// KindAwareness, Custom alone for KindCustom.
type Frame struct {
	Kind     Kind
	SyncStep SyncStep
	Payload  []byte
	Custom   string
}

// Sync builds a KindSync frame.
func Sync(step SyncStep, payload []byte) Frame {
	return Frame{Kind: KindSync, SyncStep: step, Payload: payload}
}

// Awareness builds a KindAwareness frame carrying opaque relay bytes.
func Awareness(payload []byte) Frame {
	return Frame{Kind: KindAwareness, Payload: payload}
}

// Custom builds a KindCustom frame carrying a JSON string payload.
func Custom(json string) Frame {
	return Frame{Kind: KindCustom, Custom: json}
}

// Encode serializes f into one self-delimiting byte slice, matching one
// transport message.
func Encode(f Frame) []byte {
	w := &frameWriter{}
	w.writeByte(byte(f.Kind))
	switch f.Kind {
	case KindSync:
		w.writeByte(byte(f.SyncStep))
		w.writeBytes(f.Payload)
	case KindAwareness:
		w.writeBytes(f.Payload)
	case KindCustom:
		w.writeString(f.Custom)
	}
	return w.buf.Bytes()
}

// Decode parses one frame from data. A malformed buffer — missing kind
// byte, truncated length prefix, unknown kind — is reported as
// model.ErrMalformedFrame so the caller can close the offending stream
// without affecting any other peer.
func Decode(data []byte) (Frame, error) {
	r := &frameReader{r: bytes.NewReader(data)}
	kindByte, err := r.readByte()
	if err != nil {
		return Frame{}, malformed(err)
	}
	f := Frame{Kind: Kind(kindByte)}
	switch f.Kind {
	case KindSync:
		step, err := r.readByte()
		if err != nil {
			return Frame{}, malformed(err)
		}
		f.SyncStep = SyncStep(step)
		f.Payload, err = r.readBytes()
		if err != nil {
			return Frame{}, malformed(err)
		}
	case KindAwareness:
		f.Payload, err = r.readBytes()
		if err != nil {
			return Frame{}, malformed(err)
		}
	case KindCustom:
		f.Custom, err = r.readString()
		if err != nil {
			return Frame{}, malformed(err)
		}
	default:
		return Frame{}, malformed(fmt.Errorf("unknown frame kind %d", kindByte))
	}
	return f, nil
}

func malformed(cause error) error {
	return fmt.Errorf("protocol: %w: %s", model.ErrMalformedFrame, cause.Error())
}

type frameWriter struct {
	buf bytes.Buffer
}

func (w *frameWriter) writeByte(b byte) { w.buf.WriteByte(b) }

func (w *frameWriter) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *frameWriter) writeBytes(b []byte) {
	w.writeUvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *frameWriter) writeString(s string) { w.writeBytes([]byte(s)) }

type frameReader struct {
	r *bytes.Reader
}

func (r *frameReader) readByte() (byte, error) { return r.r.ReadByte() }

func (r *frameReader) readUvarint() (uint64, error) { return binary.ReadUvarint(r.r) }

func (r *frameReader) readBytes() ([]byte, error) {
	n, err := r.readUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *frameReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
