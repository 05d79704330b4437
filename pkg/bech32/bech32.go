// Package bech32 implements the BIP173 bech32 encoding without the 90
// character limit, as used by age for keys and recipients. Data is passed
// as 8-bit bytes and regrouped into 5-bit words internally.
package bech32

import (
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generator[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

func checksum(hrp string, words []byte) []byte {
	values := append(hrpExpand(hrp), words...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := polymod(values) ^ 1
	sum := make([]byte, 6)
	for i := range sum {
		sum[i] = byte(mod>>uint(5*(5-i))) & 31
	}
	return sum
}

func verify(hrp string, words []byte) bool {
	return polymod(append(hrpExpand(hrp), words...)) == 1
}

// regroup converts between word sizes. pad controls whether trailing bits are
// emitted as a zero-padded word (encoding) or must be zero (decoding).
func regroup(data []byte, from, to uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<to - 1
	out := make([]byte, 0, len(data)*int(from)/int(to)+1)
	for _, b := range data {
		if uint32(b)>>from != 0 {
			return nil, fmt.Errorf("invalid data byte %d", b)
		}
		acc = acc<<from | uint32(b)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(to-bits)&maxv))
		}
	} else if bits >= from {
		return nil, fmt.Errorf("illegal zero padding")
	} else if acc<<(to-bits)&maxv != 0 {
		return nil, fmt.Errorf("non-zero padding")
	}
	return out, nil
}

func checkHRP(hrp string) error {
	if hrp == "" {
		return fmt.Errorf("empty human-readable part")
	}
	for i := 0; i < len(hrp); i++ {
		if hrp[i] < 33 || hrp[i] > 126 {
			return fmt.Errorf("invalid character in human-readable part: %q", hrp[i])
		}
	}
	if strings.ToLower(hrp) != hrp && strings.ToUpper(hrp) != hrp {
		return fmt.Errorf("mixed case human-readable part %q", hrp)
	}
	return nil
}

// Encode encodes data under the human-readable prefix hrp. An upper-case hrp
// produces an upper-case string.
func Encode(hrp string, data []byte) (string, error) {
	if err := checkHRP(hrp); err != nil {
		return "", err
	}
	words, err := regroup(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	upper := strings.ToUpper(hrp) == hrp && strings.ToLower(hrp) != hrp
	lowerHRP := strings.ToLower(hrp)

	var b strings.Builder
	b.Grow(len(hrp) + 1 + len(words) + 6)
	b.WriteString(lowerHRP)
	b.WriteByte('1')
	for _, w := range append(words, checksum(lowerHRP, words)...) {
		b.WriteByte(charset[w])
	}
	if upper {
		return strings.ToUpper(b.String()), nil
	}
	return b.String(), nil
}

// Decode parses a bech32 string and returns its prefix (in the input's case)
// and the 8-bit payload.
func Decode(s string) (string, []byte, error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, fmt.Errorf("mixed case")
	}
	pos := strings.LastIndex(s, "1")
	if pos < 1 || pos+7 > len(s) {
		return "", nil, fmt.Errorf("separator '1' at invalid position: pos=%d, len=%d", pos, len(s))
	}
	hrp := s[:pos]
	if err := checkHRP(hrp); err != nil {
		return "", nil, err
	}
	lower := strings.ToLower(s)
	words := make([]byte, 0, len(s)-pos-1)
	for i := pos + 1; i < len(lower); i++ {
		idx := strings.IndexByte(charset, lower[i])
		if idx < 0 {
			return "", nil, fmt.Errorf("invalid character data part: %q", s[i])
		}
		words = append(words, byte(idx))
	}
	if !verify(strings.ToLower(hrp), words) {
		return "", nil, fmt.Errorf("invalid checksum")
	}
	data, err := regroup(words[:len(words)-6], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, data, nil
}
