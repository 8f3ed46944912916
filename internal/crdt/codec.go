package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"collabfs/internal/model"
)

// The wire format is a lib0-style byte encoding:
// variable-length unsigned integers and length-prefixed byte arrays /
// strings, no JSON at this layer. encoding/binary's Uvarint is
// the stdlib primitive that provides exactly that; no CRDT wire-format
// library appears anywhere in the example pack, so there is nothing to
// wire here instead (see DESIGN.md).

// updateFormatVersion guards against decoding bytes from an incompatible
// future encoder; a torn or foreign snapshot will either fail this check or
// fail an Uvarint/bounds read below, both of which the snapshot store
// treats as "absent" rather than crashing the loader.
const updateFormatVersion = 1

type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *byteWriter) WriteByte(b byte) { w.buf.WriteByte(b) }

func (w *byteWriter) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *byteWriter) WriteString(s string) { w.WriteBytes([]byte(s)) }

func (w *byteWriter) WriteID(id ID) {
	w.WriteUvarint(id.Counter)
	w.WriteString(id.Replica)
}

func (w *byteWriter) Bytes() []byte { return w.buf.Bytes() }

type byteReader struct {
	r *bytes.Reader
}

func newByteReader(b []byte) *byteReader { return &byteReader{r: bytes.NewReader(b)} }

func (r *byteReader) ReadUvarint() (uint64, error) {
	return binary.ReadUvarint(r.r)
}

func (r *byteReader) ReadByte() (byte, error) {
	return r.r.ReadByte()
}

func (r *byteReader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.r.Len()) {
		return nil, fmt.Errorf("crdt: length %d exceeds remaining %d bytes", n, r.r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *byteReader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) ReadID() (ID, error) {
	counter, err := r.ReadUvarint()
	if err != nil {
		return ID{}, err
	}
	replica, err := r.ReadString()
	if err != nil {
		return ID{}, err
	}
	return ID{Replica: replica, Counter: counter}, nil
}

func (r *byteReader) Len() int { return r.r.Len() }

// EncodeChanges serializes a batch of Changes into the bytes carried by a
// sync-step-1/step-2 update frame.
func EncodeChanges(changes []Change) []byte {
	w := &byteWriter{}
	w.WriteUvarint(updateFormatVersion)
	w.WriteUvarint(uint64(len(changes)))
	for _, c := range changes {
		encodeChange(w, c)
	}
	return w.Bytes()
}

// DecodeChanges is the inverse of EncodeChanges. Any structural problem
// (unknown version, truncated buffer, unknown change kind) is reported as
// an error rather than a panic, so callers — in particular the snapshot
// loader — can treat malformed bytes as "no usable state" instead of
// crashing.
func DecodeChanges(data []byte) ([]Change, error) {
	r := newByteReader(data)
	version, err := r.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("crdt: read version: %w", err)
	}
	if version != updateFormatVersion {
		return nil, fmt.Errorf("crdt: unsupported update version %d", version)
	}
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("crdt: read change count: %w", err)
	}
	changes := make([]Change, 0, count)
	for i := uint64(0); i < count; i++ {
		c, err := decodeChange(r)
		if err != nil {
			return nil, fmt.Errorf("crdt: decode change %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func encodeChange(w *byteWriter, c Change) {
	w.WriteByte(byte(c.Kind))
	w.WriteID(c.ID)
	switch c.Kind {
	case chTextInsert:
		w.WriteID(c.TextID)
		w.WriteID(c.Parent)
		w.WriteUvarint(uint64(c.Value))
	case chTextDelete:
		w.WriteID(c.TextID)
		w.WriteID(c.Target)
	case chContentsPut:
		w.WriteString(c.Key)
		w.WriteID(c.TextRef)
	case chContentsDelete:
		w.WriteString(c.Key)
	case chTreePut:
		w.WriteString(c.Key)
		encodeFileMeta(w, c.Meta)
	case chTreeDelete:
		w.WriteString(c.Key)
	case chActivityPut:
		w.WriteString(c.Key)
		encodeActivity(w, c.Activity)
	case chActivityDelete:
		w.WriteString(c.Key)
	case chOpLogAppend:
		encodeOperation(w, c.Op)
	}
}

func decodeChange(r *byteReader) (Change, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Change{}, err
	}
	c := Change{Kind: changeKind(kindByte)}
	if c.ID, err = r.ReadID(); err != nil {
		return Change{}, err
	}
	switch c.Kind {
	case chTextInsert:
		if c.TextID, err = r.ReadID(); err != nil {
			return Change{}, err
		}
		if c.Parent, err = r.ReadID(); err != nil {
			return Change{}, err
		}
		v, err := r.ReadUvarint()
		if err != nil {
			return Change{}, err
		}
		c.Value = rune(v)
	case chTextDelete:
		if c.TextID, err = r.ReadID(); err != nil {
			return Change{}, err
		}
		if c.Target, err = r.ReadID(); err != nil {
			return Change{}, err
		}
	case chContentsPut:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
		if c.TextRef, err = r.ReadID(); err != nil {
			return Change{}, err
		}
	case chContentsDelete:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
	case chTreePut:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
		if c.Meta, err = decodeFileMeta(r); err != nil {
			return Change{}, err
		}
	case chTreeDelete:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
	case chActivityPut:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
		if c.Activity, err = decodeActivity(r); err != nil {
			return Change{}, err
		}
	case chActivityDelete:
		if c.Key, err = r.ReadString(); err != nil {
			return Change{}, err
		}
	case chOpLogAppend:
		if c.Op, err = decodeOperation(r); err != nil {
			return Change{}, err
		}
	default:
		return Change{}, fmt.Errorf("crdt: unknown change kind %d", kindByte)
	}
	return c, nil
}

func encodeFileMeta(w *byteWriter, m model.FileMeta) {
	w.WriteString(string(m.Kind))
	w.WriteUvarint(uint64(m.LastModifiedMs))
	w.WriteString(m.LastModifiedBy)
	w.WriteUvarint(uint64(m.Token))
	w.WriteUvarint(uint64(m.SizeBytes))
	if m.IsBinary {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func decodeFileMeta(r *byteReader) (model.FileMeta, error) {
	var m model.FileMeta
	kind, err := r.ReadString()
	if err != nil {
		return m, err
	}
	m.Kind = model.FileKind(kind)
	lm, err := r.ReadUvarint()
	if err != nil {
		return m, err
	}
	m.LastModifiedMs = int64(lm)
	if m.LastModifiedBy, err = r.ReadString(); err != nil {
		return m, err
	}
	tok, err := r.ReadUvarint()
	if err != nil {
		return m, err
	}
	m.Token = int64(tok)
	sz, err := r.ReadUvarint()
	if err != nil {
		return m, err
	}
	m.SizeBytes = int64(sz)
	bin, err := r.ReadByte()
	if err != nil {
		return m, err
	}
	m.IsBinary = bin != 0
	return m, nil
}

func encodeActivity(w *byteWriter, a model.Activity) {
	w.WriteString(a.UserID)
	w.WriteString(a.CurrentFile)
	w.WriteString(string(a.Action))
	w.WriteUvarint(uint64(a.TimestampMs))
}

func decodeActivity(r *byteReader) (model.Activity, error) {
	var a model.Activity
	var err error
	if a.UserID, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.CurrentFile, err = r.ReadString(); err != nil {
		return a, err
	}
	action, err := r.ReadString()
	if err != nil {
		return a, err
	}
	a.Action = model.ActivityAction(action)
	ts, err := r.ReadUvarint()
	if err != nil {
		return a, err
	}
	a.TimestampMs = int64(ts)
	return a, nil
}

func encodeOperation(w *byteWriter, op model.Operation) {
	w.WriteUvarint(uint64(op.Token))
	w.WriteString(string(op.Kind))
	w.WriteString(op.Path)
	w.WriteString(op.NewPath)
	w.WriteString(op.By)
	w.WriteUvarint(uint64(op.TimestampMs))
	if op.Success {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteString(op.Error)
}

func decodeOperation(r *byteReader) (model.Operation, error) {
	var op model.Operation
	tok, err := r.ReadUvarint()
	if err != nil {
		return op, err
	}
	op.Token = int64(tok)
	kind, err := r.ReadString()
	if err != nil {
		return op, err
	}
	op.Kind = model.OpKind(kind)
	if op.Path, err = r.ReadString(); err != nil {
		return op, err
	}
	if op.NewPath, err = r.ReadString(); err != nil {
		return op, err
	}
	if op.By, err = r.ReadString(); err != nil {
		return op, err
	}
	ts, err := r.ReadUvarint()
	if err != nil {
		return op, err
	}
	op.TimestampMs = int64(ts)
	success, err := r.ReadByte()
	if err != nil {
		return op, err
	}
	op.Success = success != 0
	if op.Error, err = r.ReadString(); err != nil {
		return op, err
	}
	return op, nil
}

// EncodeStateVector serializes a replica->counter map.
func EncodeStateVector(v map[string]uint64) []byte {
	w := &byteWriter{}
	w.WriteUvarint(uint64(len(v)))
	for replica, counter := range v {
		w.WriteString(replica)
		w.WriteUvarint(counter)
	}
	return w.Bytes()
}

// DecodeStateVector is the inverse of EncodeStateVector.
func DecodeStateVector(data []byte) (map[string]uint64, error) {
	r := newByteReader(data)
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	v := make(map[string]uint64, n)
	for i := uint64(0); i < n; i++ {
		replica, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		counter, err := r.ReadUvarint()
		if err != nil {
			return nil, err
		}
		v[replica] = counter
	}
	return v, nil
}
