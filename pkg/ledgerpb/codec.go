package ledgerpb

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 註冊到 gRPC 的編碼名稱，呼叫端以 grpc.CallContentSubtype(CodecName) 選用
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
