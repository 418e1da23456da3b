package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

// JSONName is the registry name of the JSON codec.
const JSONName = "json"

var jsonConfig = sonic.ConfigStd

type jsonCodec struct{}

// JSON returns a codec backed by sonic's standard-library compatible mode.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string { return JSONName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

// MarshalJSON encodes v with the shared sonic configuration.
func MarshalJSON(v any) ([]byte, error) {
	return jsonConfig.Marshal(v)
}

// UnmarshalJSON decodes data with the shared sonic configuration.
func UnmarshalJSON(data []byte, v any) error {
	return jsonConfig.Unmarshal(data, v)
}

// EncodeJSON writes v to w followed by a newline.
func EncodeJSON(w io.Writer, v any) error {
	return jsonConfig.NewEncoder(w).Encode(v)
}
