package codec

import (
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// ProtoName is the registry name of the protobuf codec.
const ProtoName = "proto"

// ErrNotProto is returned when the value is not a protobuf message.
var ErrNotProto = errors.New("codec: value is not a protobuf message")

type protoCodec struct{}

// Proto returns a codec using the protobuf binary wire format.
func Proto() Codec {
	return protoCodec{}
}

func (protoCodec) Name() string { return ProtoName }

func (protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProto, v)
	}
	if isNilMessage(msg) {
		return nil, fmt.Errorf("codec: nil %T", v)
	}
	return proto.Marshal(msg)
}

// Unmarshal accepts either a message or a pointer to a message pointer, in
// which case a fresh message is allocated.
func (protoCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok && !isNilMessage(msg) {
		return proto.Unmarshal(data, msg)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Pointer {
		return fmt.Errorf("%w: %T", ErrNotProto, v)
	}
	elem := rv.Elem()
	if elem.IsNil() {
		elem.Set(reflect.New(elem.Type().Elem()))
	}
	msg, ok := elem.Interface().(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProto, v)
	}
	return proto.Unmarshal(data, msg)
}

func isNilMessage(msg proto.Message) bool {
	rv := reflect.ValueOf(msg)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
