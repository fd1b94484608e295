// Package conv formats numbers into caller-owned byte slices without fmt or
// strconv, for log lines on the MCU.
package conv

import "golang.org/x/exp/constraints"

const hexDigits = "0123456789abcdef"

// AppendUint appends the base-10 form of n.
func AppendUint[T constraints.Unsigned](dst []byte, n T) []byte {
	var tmp [20]byte
	i := len(tmp)
	u := uint64(n)
	for {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
		if u == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

// AppendInt appends the base-10 form of n.
func AppendInt[T constraints.Signed](dst []byte, n T) []byte {
	v := int64(n)
	if v < 0 {
		dst = append(dst, '-')
		return AppendUint(dst, uint64(-v))
	}
	return AppendUint(dst, uint64(v))
}

// AppendHex appends n as "0x" and at least digits lowercase hex digits.
func AppendHex[T constraints.Unsigned](dst []byte, n T, digits int) []byte {
	var tmp [16]byte
	i := len(tmp)
	u := uint64(n)
	for i > 0 && (u != 0 || len(tmp)-i < digits) {
		i--
		tmp[i] = hexDigits[u&0xF]
		u >>= 4
	}
	if i == len(tmp) {
		i--
		tmp[i] = '0'
	}
	dst = append(dst, '0', 'x')
	return append(dst, tmp[i:]...)
}

// AppendBytes appends b as two hex digits per byte, separated by sep when
// sep is non-zero.
func AppendBytes(dst, b []byte, sep byte) []byte {
	for i, c := range b {
		if i > 0 && sep != 0 {
			dst = append(dst, sep)
		}
		dst = append(dst, hexDigits[c>>4], hexDigits[c&0xF])
	}
	return dst
}
