package common

import (
	"github.com/ugorji/go/codec"
)

// mh is shared by every encoder. MsgpackHandle is safe for concurrent use once
// configured.
var mh = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.WriteExt = true
	h.RawToString = true
	h.Canonical = true
	return h
}

// Encode serializes v into its canonical msgpack form. It is used for wire
// payloads, signing bytes and database values alike, so the output must stay
// deterministic for a given value.
func Encode(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses data produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, mh)
	return dec.Decode(v)
}
