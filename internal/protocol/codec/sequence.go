package codec

import (
	"math"
	"time"
)

// Sequences are an int32 element count followed by each element in order.

func writeSeq[T any](b *Buffer, vals []T, put func(T) error) error {
	if len(vals) > math.MaxInt32 {
		return ErrInvalidLength
	}
	if err := b.WriteInt32(int32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := put(v); err != nil {
			return err
		}
	}
	return nil
}

func readSeq[T any](b *Buffer, minElem int, get func() (T, error)) ([]T, error) {
	n, err := b.readCount(minElem)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		v, err := get()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *Buffer) WriteUint16s(v []uint16) error { return writeSeq(b, v, b.WriteUint16) }

func (b *Buffer) ReadUint16s() ([]uint16, error) { return readSeq(b, 2, b.ReadUint16) }

func (b *Buffer) WriteInt16s(v []int16) error { return writeSeq(b, v, b.WriteInt16) }

func (b *Buffer) ReadInt16s() ([]int16, error) { return readSeq(b, 2, b.ReadInt16) }

func (b *Buffer) WriteUint32s(v []uint32) error { return writeSeq(b, v, b.WriteUint32) }

func (b *Buffer) ReadUint32s() ([]uint32, error) { return readSeq(b, 4, b.ReadUint32) }

func (b *Buffer) WriteInt32s(v []int32) error { return writeSeq(b, v, b.WriteInt32) }

func (b *Buffer) ReadInt32s() ([]int32, error) { return readSeq(b, 4, b.ReadInt32) }

func (b *Buffer) WriteUint64s(v []uint64) error { return writeSeq(b, v, b.WriteUint64) }

func (b *Buffer) ReadUint64s() ([]uint64, error) { return readSeq(b, 8, b.ReadUint64) }

func (b *Buffer) WriteInt64s(v []int64) error { return writeSeq(b, v, b.WriteInt64) }

func (b *Buffer) ReadInt64s() ([]int64, error) { return readSeq(b, 8, b.ReadInt64) }

func (b *Buffer) WriteBools(v []bool) error { return writeSeq(b, v, b.WriteBool) }

func (b *Buffer) ReadBools() ([]bool, error) { return readSeq(b, 1, b.ReadBool) }

func (b *Buffer) WriteFloat32s(v []float32) error { return writeSeq(b, v, b.WriteFloat32) }

func (b *Buffer) ReadFloat32s() ([]float32, error) { return readSeq(b, 4, b.ReadFloat32) }

func (b *Buffer) WriteFloat64s(v []float64) error { return writeSeq(b, v, b.WriteFloat64) }

func (b *Buffer) ReadFloat64s() ([]float64, error) { return readSeq(b, 8, b.ReadFloat64) }

func (b *Buffer) WriteStrings(v []string) error { return writeSeq(b, v, b.WriteString) }

func (b *Buffer) ReadStrings() ([]string, error) { return readSeq(b, 4, b.ReadString) }

func (b *Buffer) WriteTimes(v []time.Time) error { return writeSeq(b, v, b.WriteTime) }

func (b *Buffer) ReadTimes() ([]time.Time, error) { return readSeq(b, TimeSize, b.ReadTime) }
