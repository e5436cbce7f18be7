package compress

// LZF block format: a control byte below 32 starts a literal run of ctrl+1
// bytes. Otherwise the top three bits hold the match length minus two (7 means
// an extra length byte follows) and the low five bits plus the next byte hold
// the back-reference distance minus one.

const (
	lzfHashLog  = 14
	lzfHashSize = 1 << lzfHashLog
	lzfMaxLit   = 1 << 5
	lzfMaxOff   = 1 << 13
	lzfMaxRef   = (1 << 8) + (1 << 3)
)

type lzfCodec struct{}

func (lzfCodec) Name() string { return "lzf" }

func lzfHash(p []byte) uint32 {
	v := uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	return (v * 2654435761) >> (32 - lzfHashLog)
}

func (lzfCodec) Compress(src []byte) ([]byte, error) {
	n := len(src)
	out := make([]byte, 0, n+n/lzfMaxLit+1)
	var table [lzfHashSize]int32 // position+1, zero when empty

	litStart := 0
	flush := func(end int) {
		for litStart < end {
			run := min(end-litStart, lzfMaxLit)
			out = append(out, byte(run-1))
			out = append(out, src[litStart:litStart+run]...)
			litStart += run
		}
	}

	i := 0
	for i+2 < n {
		h := lzfHash(src[i:])
		cand := int(table[h]) - 1
		table[h] = int32(i + 1)
		if cand < 0 {
			i++
			continue
		}
		off := i - cand - 1
		if off >= lzfMaxOff || src[cand] != src[i] || src[cand+1] != src[i+1] || src[cand+2] != src[i+2] {
			i++
			continue
		}

		maxLen := min(n-i, lzfMaxRef)
		length := 3
		for length < maxLen && src[cand+length] == src[i+length] {
			length++
		}

		flush(i)
		enc := length - 2
		if enc < 7 {
			out = append(out, byte(off>>8|enc<<5))
		} else {
			out = append(out, byte(off>>8|7<<5), byte(enc-7))
		}
		out = append(out, byte(off))

		end := i + length
		for j := i + 1; j < end && j+2 < n; j++ {
			table[lzfHash(src[j:])] = int32(j + 1)
		}
		i = end
		litStart = i
	}
	flush(n)
	return out, nil
}

func (lzfCodec) Decompress(src []byte, maxLen int) ([]byte, error) {
	out := make([]byte, 0, min(maxLen, len(src)*2))
	i := 0
	for i < len(src) {
		ctrl := int(src[i])
		i++
		if ctrl < lzfMaxLit {
			run := ctrl + 1
			if i+run > len(src) {
				return nil, ErrCorrupt
			}
			if len(out)+run > maxLen {
				return nil, ErrTooLarge
			}
			out = append(out, src[i:i+run]...)
			i += run
			continue
		}

		length := ctrl >> 5
		if length == 7 {
			if i >= len(src) {
				return nil, ErrCorrupt
			}
			length += int(src[i])
			i++
		}
		length += 2
		if i >= len(src) {
			return nil, ErrCorrupt
		}
		ref := len(out) - (ctrl&0x1f)<<8 - 1 - int(src[i])
		i++
		if ref < 0 {
			return nil, ErrCorrupt
		}
		if len(out)+length > maxLen {
			return nil, ErrTooLarge
		}
		for k := 0; k < length; k++ {
			out = append(out, out[ref+k])
		}
	}
	return out, nil
}
