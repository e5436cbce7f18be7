package codec

import (
	"encoding/binary"
	"math"
	"time"
)

// Integers are big-endian. Floats keep the little-endian IEEE-754 layout that
// existing peers emit.

func (b *Buffer) WriteByte(v byte) error {
	off, err := b.reserve(1)
	if err != nil {
		return err
	}
	b.data[off] = v
	return nil
}

func (b *Buffer) ReadByte() (byte, error) {
	off, err := b.need(1)
	if err != nil {
		return 0, err
	}
	return b.data[off], nil
}

func (b *Buffer) WriteUint16(v uint16) error {
	off, err := b.reserve(2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[off:], v)
	return nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	off, err := b.need(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.data[off:]), nil
}

func (b *Buffer) WriteInt16(v int16) error {
	return b.WriteUint16(uint16(v))
}

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) WriteUint32(v uint32) error {
	off, err := b.reserve(4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[off:], v)
	return nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	off, err := b.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b.data[off:]), nil
}

func (b *Buffer) WriteInt32(v int32) error {
	return b.WriteUint32(uint32(v))
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) WriteUint64(v uint64) error {
	off, err := b.reserve(8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[off:], v)
	return nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	off, err := b.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b.data[off:]), nil
}

func (b *Buffer) WriteInt64(v int64) error {
	return b.WriteUint64(uint64(v))
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) WriteBool(v bool) error {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// ReadBool treats any non-zero byte as true.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0, err
}

func (b *Buffer) WriteFloat32(v float32) error {
	off, err := b.reserve(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.data[off:], math.Float32bits(v))
	return nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	off, err := b.need(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b.data[off:])), nil
}

func (b *Buffer) WriteFloat64(v float64) error {
	off, err := b.reserve(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b.data[off:], math.Float64bits(v))
	return nil
}

func (b *Buffer) ReadFloat64() (float64, error) {
	off, err := b.need(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b.data[off:])), nil
}

// WriteBytes writes an int32 byte count followed by p.
func (b *Buffer) WriteBytes(p []byte) error {
	if len(p) > math.MaxInt32 {
		return ErrInvalidLength
	}
	if b.pos+4+len(p) > len(b.data) {
		return ErrBufferOverflow
	}
	if err := b.WriteInt32(int32(len(p))); err != nil {
		return err
	}
	_, err := b.Write(p)
	return err
}

// ReadBytes returns a copy; the receive buffer is reused for the next frame.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.readCount(1)
	if err != nil {
		return nil, err
	}
	off, err := b.need(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[off:off+n])
	return out, nil
}

// WriteString writes s as UTF-8 in the byte-sequence format. The prefix counts
// bytes, not runes.
func (b *Buffer) WriteString(s string) error {
	if len(s) > math.MaxInt32 {
		return ErrInvalidLength
	}
	if b.pos+4+len(s) > len(b.data) {
		return ErrBufferOverflow
	}
	if err := b.WriteInt32(int32(len(s))); err != nil {
		return err
	}
	off, err := b.reserve(len(s))
	if err != nil {
		return err
	}
	copy(b.data[off:], s)
	return nil
}

func (b *Buffer) ReadString() (string, error) {
	n, err := b.readCount(1)
	if err != nil {
		return "", err
	}
	off, err := b.need(n)
	if err != nil {
		return "", err
	}
	return string(b.data[off : off+n]), nil
}

// TimeSize is the encoded size of a timestamp: seven int16 fields.
const TimeSize = 14

// WriteTime writes year, month, day, hour, minute, second and millisecond as
// int16 fields, taken from t in its own location.
func (b *Buffer) WriteTime(t time.Time) error {
	year := t.Year()
	if year < 1 || year > 9999 {
		return ErrInvalidTimestamp
	}
	if b.pos+TimeSize > len(b.data) {
		return ErrBufferOverflow
	}
	fields := [7]int{
		year,
		int(t.Month()),
		t.Day(),
		t.Hour(),
		t.Minute(),
		t.Second(),
		t.Nanosecond() / int(time.Millisecond),
	}
	for _, f := range fields {
		if err := b.WriteInt16(int16(f)); err != nil {
			return err
		}
	}
	return nil
}

// ReadTime decodes a timestamp in UTC. Out-of-range fields fail with
// ErrInvalidTimestamp instead of being normalized.
func (b *Buffer) ReadTime() (time.Time, error) {
	var f [7]int
	for i := range f {
		v, err := b.ReadInt16()
		if err != nil {
			return time.Time{}, err
		}
		f[i] = int(v)
	}
	year, month, day, hour, minute, second, ms := f[0], f[1], f[2], f[3], f[4], f[5], f[6]
	if year < 1 || year > 9999 || month < 1 || month > 12 || day < 1 ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 ||
		second < 0 || second > 59 || ms < 0 || ms > 999 {
		return time.Time{}, ErrInvalidTimestamp
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, ms*int(time.Millisecond), time.UTC)
	if t.Day() != day {
		return time.Time{}, ErrInvalidTimestamp
	}
	return t, nil
}

// readCount reads a sequence element count and rejects counts whose elements
// could not fit in the remaining bytes at minElem bytes each.
func (b *Buffer) readCount(minElem int) (int, error) {
	raw, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	if raw < 0 {
		return 0, ErrInvalidLength
	}
	n := int(raw)
	if minElem > 0 && n > b.Remaining()/minElem {
		return 0, ErrBufferUnderflow
	}
	return n, nil
}
