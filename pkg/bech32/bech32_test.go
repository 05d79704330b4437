package bech32

import (
	"bytes"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestDecodeVectors(t *testing.T) {
	tests := []struct {
		in      string
		hrp     string
		dataLen int
	}{
		{in: "A12UEL5L", hrp: "A", dataLen: 0},
		{in: "a12uel5l", hrp: "a", dataLen: 0},
		{in: "abcdef1qpzry9x8gf2tvdw0s3jn54khce6mua7lmqqqxw", hrp: "abcdef", dataLen: 20},
		{in: "split1checkupstagehandshakeupstreamerranterredcaperred2y9e3w", hrp: "split", dataLen: 30},
	}
	for _, tt := range tests {
		t.Run(tt.hrp, func(t *testing.T) {
			hrp, data, err := Decode(tt.in)
			if err != nil {
				t.Fatalf("Decode(%q): %v", tt.in, err)
			}
			if hrp != tt.hrp || len(data) != tt.dataLen {
				t.Fatalf("Decode(%q) = %q, %d bytes; want %q, %d bytes", tt.in, hrp, len(data), tt.hrp, tt.dataLen)
			}
			again, err := Encode(hrp, data)
			if err != nil || again != tt.in {
				t.Fatalf("Encode = %q, %v; want %q", again, err, tt.in)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	for name, in := range map[string]string{
		"mixed case":       "A12uEL5L",
		"no separator":     "pzry9x0s0muk",
		"empty hrp":        "1pzry9x0s0muk",
		"short checksum":   "a1uel5",
		"bad data char":    "x1b4n0q5v",
		"bad checksum":     "a12uel5m",
		"hrp out of range": "\x201nwldj5",
		"separator at end": "abcdef1",
		"empty string":     "",
		"zero checksum":    "a1qqqqqqqqqqqqq",
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Decode(in); err == nil {
				t.Fatalf("Decode(%q) succeeded", in)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		hrp  string
		data []byte
	}{
		{hrp: "age", data: []byte("pre-restore snapshot")},
		{hrp: "flowsave", data: nil},
		{hrp: "AGE-SECRET-KEY-", data: bytes.Repeat([]byte{0xff}, 32)},
		{hrp: "bc", data: []byte{0, 1, 2, 3, 254, 255}},
	}
	for _, tt := range tests {
		enc, err := Encode(tt.hrp, tt.data)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.hrp, err)
		}
		if strings.ToUpper(tt.hrp) == tt.hrp && enc != strings.ToUpper(enc) {
			t.Fatalf("upper-case prefix produced %q", enc)
		}
		hrp, data, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q): %v", enc, err)
		}
		if hrp != tt.hrp || !bytes.Equal(data, tt.data) {
			t.Fatalf("round trip = %q %x; want %q %x", hrp, data, tt.hrp, tt.data)
		}
	}
}

func TestEncodeRejectsBadPrefix(t *testing.T) {
	for _, hrp := range []string{"", "MiXed", "tab\there"} {
		if _, err := Encode(hrp, []byte{1}); err == nil {
			t.Errorf("Encode(%q) succeeded", hrp)
		}
	}
}

func TestAgeKeysRoundTrip(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{id.String(), id.Recipient().String()} {
		hrp, data, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if len(data) != 32 {
			t.Fatalf("%s payload = %d bytes; want 32", hrp, len(data))
		}
		again, err := Encode(hrp, data)
		if err != nil || again != s {
			t.Fatalf("Encode = %q, %v; want %q", again, err, s)
		}
	}
}
