package codec

import (
	"time"
)

// Tagged dynamic values: a presence flag, a type name, then the typed value.
// Kept only for peers that still emit them; new messages should use typed fields.

const (
	dynByte     = "Byte"
	dynUint16   = "UInt16"
	dynInt16    = "Int16"
	dynUint32   = "UInt32"
	dynInt32    = "Int32"
	dynUint64   = "UInt64"
	dynInt64    = "Int64"
	dynFloat32  = "Single"
	dynFloat64  = "Double"
	dynBool     = "Boolean"
	dynString   = "String"
	dynDateTime = "DateTime"
)

// WriteDynamic writes v with its type tag. Values of unsupported types, nil
// included, are written as an absent flag.
//
// Deprecated: use the typed Write methods.
func (b *Buffer) WriteDynamic(v any) error {
	switch x := v.(type) {
	case byte:
		return b.writeTagged(dynByte, func() error { return b.WriteByte(x) })
	case uint16:
		return b.writeTagged(dynUint16, func() error { return b.WriteUint16(x) })
	case int16:
		return b.writeTagged(dynInt16, func() error { return b.WriteInt16(x) })
	case uint32:
		return b.writeTagged(dynUint32, func() error { return b.WriteUint32(x) })
	case int32:
		return b.writeTagged(dynInt32, func() error { return b.WriteInt32(x) })
	case uint64:
		return b.writeTagged(dynUint64, func() error { return b.WriteUint64(x) })
	case int64:
		return b.writeTagged(dynInt64, func() error { return b.WriteInt64(x) })
	case float32:
		return b.writeTagged(dynFloat32, func() error { return b.WriteFloat32(x) })
	case float64:
		return b.writeTagged(dynFloat64, func() error { return b.WriteFloat64(x) })
	case bool:
		return b.writeTagged(dynBool, func() error { return b.WriteBool(x) })
	case string:
		return b.writeTagged(dynString, func() error { return b.WriteString(x) })
	case time.Time:
		return b.writeTagged(dynDateTime, func() error { return b.WriteTime(x) })
	default:
		return b.WriteBool(false)
	}
}

func (b *Buffer) writeTagged(name string, put func() error) error {
	if err := b.WriteBool(true); err != nil {
		return err
	}
	if err := b.WriteString(name); err != nil {
		return err
	}
	return put()
}

// ReadDynamic returns nil for an absent flag or an unknown type name.
//
// Deprecated: use the typed Read methods.
func (b *Buffer) ReadDynamic() (any, error) {
	present, err := b.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	name, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	switch name {
	case dynByte:
		return b.ReadByte()
	case dynUint16:
		return b.ReadUint16()
	case dynInt16:
		return b.ReadInt16()
	case dynUint32:
		return b.ReadUint32()
	case dynInt32:
		return b.ReadInt32()
	case dynUint64:
		return b.ReadUint64()
	case dynInt64:
		return b.ReadInt64()
	case dynFloat32:
		return b.ReadFloat32()
	case dynFloat64:
		return b.ReadFloat64()
	case dynBool:
		return b.ReadBool()
	case dynString:
		return b.ReadString()
	case dynDateTime:
		return b.ReadTime()
	}
	return nil, nil
}

// Deprecated: use the typed sequence methods.
func (b *Buffer) WriteDynamics(v []any) error {
	return writeSeq(b, v, b.WriteDynamic)
}

// Deprecated: use the typed sequence methods.
func (b *Buffer) ReadDynamics() ([]any, error) {
	return readSeq(b, 1, b.ReadDynamic)
}
