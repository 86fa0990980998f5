package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the frame format of one connection.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgpack
)

func (e Encoding) String() string {
	if e == EncodingMsgpack {
		return "msgpack"
	}
	return "json"
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return EncodingJSON, nil
	case "msgpack":
		return EncodingMsgpack, nil
	}
	return EncodingJSON, fmt.Errorf("unknown encoding %q", s)
}

// Marshal encodes v. msgpack frames reuse the json field names.
func Marshal(enc Encoding, v any) ([]byte, error) {
	if enc != EncodingMsgpack {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	me := msgpack.NewEncoder(&buf)
	me.SetCustomStructTag("json")
	me.UseCompactInts(true)
	if err := me.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(enc Encoding, b []byte, v any) error {
	if enc != EncodingMsgpack {
		return json.Unmarshal(b, v)
	}
	md := msgpack.NewDecoder(bytes.NewReader(b))
	md.SetCustomStructTag("json")
	return md.Decode(v)
}

// ToJSON normalizes an inbound frame to JSON so validation and decoding
// follow one path regardless of the connection's encoding.
func ToJSON(enc Encoding, b []byte) ([]byte, error) {
	if enc != EncodingMsgpack {
		return b, nil
	}
	var doc any
	if err := Unmarshal(enc, b, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
