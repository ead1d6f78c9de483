package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode 按 JSON 编码一条消息
func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty message type")
	}
	if payload == nil {
		return nil, fmt.Errorf("encode %q: nil payload", t)
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{T: t, P: pb})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope: empty frame")
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.T == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return e, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := json.Unmarshal(env.P, &out)
	return out, err
}

// Codec 线路编解码器。Decode 返回消息类型与尚未解码的负载
type Codec interface {
	Name() string
	Binary() bool
	Encode(t string, payload any) ([]byte, error)
	Decode(b []byte) (string, []byte, error)
	Unmarshal(raw []byte, out any) error
}

// Read 解码负载到具体类型
func Read[T any](c Codec, t string, raw []byte) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("empty payload for type %q", t)
	}
	err := c.Unmarshal(raw, &out)
	return out, err
}

// NewCodec 根据名字创建编解码器，compress 仅对 msgpack 生效
func NewCodec(name string, compress bool) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{Compress: compress}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(t string, payload any) ([]byte, error) { return Encode(t, payload) }

func (JSONCodec) Decode(b []byte) (string, []byte, error) {
	e, err := DecodeEnvelope(b)
	if err != nil {
		return "", nil, err
	}
	return e.T, e.P, nil
}

func (JSONCodec) Unmarshal(raw []byte, out any) error { return json.Unmarshal(raw, out) }

// MsgpackCodec 二进制编码，字段名沿用 json 标签，可选 lz4 帧压缩
type MsgpackCodec struct {
	Compress bool
}

type binaryEnvelope struct {
	T string             `json:"t"`
	P msgpack.RawMessage `json:"p"`
}

func (c MsgpackCodec) Name() string {
	if c.Compress {
		return "msgpack+lz4"
	}
	return "msgpack"
}

func (MsgpackCodec) Binary() bool { return true }

func marshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalMsgpack(b []byte, out any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(out)
}

func (c MsgpackCodec) Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("encode: empty message type")
	}
	if payload == nil {
		return nil, fmt.Errorf("encode %q: nil payload", t)
	}
	pb, err := marshalMsgpack(payload)
	if err != nil {
		return nil, err
	}
	out, err := marshalMsgpack(binaryEnvelope{T: t, P: pb})
	if err != nil {
		return nil, err
	}
	if c.Compress {
		return compressLZ4(out)
	}
	return out, nil
}

func (c MsgpackCodec) Decode(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, fmt.Errorf("decode envelope: empty frame")
	}
	if c.Compress {
		var err error
		if b, err = decompressLZ4(b); err != nil {
			return "", nil, fmt.Errorf("decode envelope: %w", err)
		}
	}
	var e binaryEnvelope
	if err := unmarshalMsgpack(b, &e); err != nil {
		return "", nil, err
	}
	if e.T == "" {
		return "", nil, fmt.Errorf("decode envelope: missing type")
	}
	return e.T, e.P, nil
}

func (MsgpackCodec) Unmarshal(raw []byte, out any) error { return unmarshalMsgpack(raw, out) }

func compressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MaxDecompressed 解压后单帧的上限，超过即拒绝
const MaxDecompressed = 1 << 20

var ErrFrameTooLarge = errors.New("decompressed frame exceeds limit")

func decompressLZ4(src []byte) ([]byte, error) {
	r := io.LimitReader(lz4.NewReader(bytes.NewReader(src)), MaxDecompressed+1)
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecompressed {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}
