package common

import (
	"fmt"
	"testing"
	"time"
)

type codecSample struct {
	Name   string
	Height uint64
	Data   []byte
	Tags   map[string]int
}

func TestEncodeDecode(t *testing.T) {
	in := codecSample{
		Name:   "s2",
		Height: 1257000,
		Data:   []byte{1, 2, 3},
		Tags:   map[string]int{"b": 2, "a": 1},
	}

	b, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}

	var out codecSample
	if err := Decode(b, &out); err != nil {
		t.Fatal(err)
	}

	if out.Name != in.Name || out.Height != in.Height || string(out.Data) != string(in.Data) {
		t.Fatalf("decoded value should be %#v, not %#v", in, out)
	}
	if out.Tags["a"] != 1 || out.Tags["b"] != 2 {
		t.Fatalf("decoded map mismatch: %v", out.Tags)
	}

	// canonical encoding must not depend on map iteration order
	for i := 0; i < 10; i++ {
		b2, _ := Encode(in)
		if string(b2) != string(b) {
			t.Fatalf("encoding is not deterministic")
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	var out codecSample
	if err := Decode([]byte{0xc1, 0xff, 0x00}, &out); err == nil {
		t.Fatalf("decoding garbage should fail")
	}
}

func TestHexAddress(t *testing.T) {
	a := Address{0xde, 0xad, 0xbe, 0xef}
	if a.String() != "0XDEADBEEF" {
		t.Fatalf("bad address string %s", a.String())
	}

	b, err := DecodeFromString("0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("decoded address mismatch")
	}
}

func TestProtocolErr(t *testing.T) {
	err := NewProtocolErr(Violation, "role %s not accepted", "client")
	if !IsProtocol(err, Violation) {
		t.Fatalf("expected violation")
	}
	if IsProtocol(err, Malformed) {
		t.Fatalf("unexpected malformed")
	}
	if err.Error() != "Violation: role client not accepted" {
		t.Fatalf("bad message %q", err.Error())
	}
}

func TestManualClock(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewManualClock(start)
	c.Advance(40 * time.Second)
	if got := c.Now().Unix(); got != 1040 {
		t.Fatalf("clock should read 1040, not %d", got)
	}
}

func TestWrappedErrors(t *testing.T) {
	err := fmt.Errorf("loading header: %w", NewStoreErr("Header", KeyNotFound, "12"))
	if !IsStore(err, KeyNotFound) || IsStore(err, Empty) {
		t.Fatalf("wrapped store error should keep its type")
	}
	if err.Error() != "loading header: Header 12: not found" {
		t.Fatalf("bad message %q", err.Error())
	}

	perr := fmt.Errorf("relay: %w", NewProtocolErr(QuotaExceeded, "data quota"))
	if !IsProtocol(perr, QuotaExceeded) {
		t.Fatalf("wrapped protocol error should keep its type")
	}
}
