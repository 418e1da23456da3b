package runtime

import (
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"
)

// TypeNamer lets a payload type choose the type name announced on the
// wire.
type TypeNamer interface {
	DDSTypeName() string
}

// Keyed payload types identify the instance a sample belongs to. An empty
// key is sent as a single zero byte.
type Keyed interface {
	DDSKey() []byte
}

// TypeInfo is what the engine learns about a payload type.
type TypeInfo struct {
	Name  string
	Keyed bool
}

var builtinTypeNames = map[reflect.Kind]string{
	reflect.Bool:    "boolean",
	reflect.Int8:    "int8",
	reflect.Uint8:   "uint8",
	reflect.Int16:   "short",
	reflect.Uint16:  "unsigned short",
	reflect.Int32:   "long",
	reflect.Uint32:  "unsigned long",
	reflect.Int64:   "long long",
	reflect.Uint64:  "unsigned long long",
	reflect.Float32: "float",
	reflect.Float64: "double",
	reflect.String:  "string",
}

var (
	typeNamerType = reflect.TypeFor[TypeNamer]()
	keyedType     = reflect.TypeFor[Keyed]()
	protoType     = reflect.TypeFor[proto.Message]()

	descriptorCache sync.Map // reflect.Type -> TypeInfo
)

// DescribeType resolves the wire type name and keyed-ness of T.
func DescribeType[T any]() TypeInfo {
	return describe(reflect.TypeFor[T]())
}

func describe(t reflect.Type) TypeInfo {
	if cached, ok := descriptorCache.Load(t); ok {
		return cached.(TypeInfo)
	}
	info := TypeInfo{
		Name:  typeName(t),
		Keyed: t.Implements(keyedType) || reflect.PointerTo(t).Implements(keyedType),
	}
	descriptorCache.Store(t, info)
	return info
}

// typeName prefers DDSTypeName, then the protobuf full name, then the IDL
// name of builtin kinds, then the Go type name.
func typeName(t reflect.Type) string {
	if inst, ok := instanceOf(t, typeNamerType); ok {
		return inst.Interface().(TypeNamer).DDSTypeName()
	}
	if inst, ok := instanceOf(t, protoType); ok {
		return string(inst.Interface().(proto.Message).ProtoReflect().Descriptor().FullName())
	}
	if t.PkgPath() == "" {
		if name, ok := builtinTypeNames[t.Kind()]; ok {
			return name
		}
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return "sequence<octet>"
		}
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// instanceOf returns a non-nil value of t, or of *t, implementing iface.
func instanceOf(t, iface reflect.Type) (reflect.Value, bool) {
	switch {
	case t.Kind() == reflect.Pointer && t.Implements(iface):
		return reflect.New(t.Elem()), true
	case t.Kind() != reflect.Interface && t.Implements(iface):
		return reflect.New(t).Elem(), true
	case t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(iface):
		return reflect.New(t), true
	}
	return reflect.Value{}, false
}

// keyOf extracts the instance key of v, checking both v and &v.
func keyOf[T any](v *T) ([]byte, bool) {
	if k, ok := any(*v).(Keyed); ok {
		if rv := reflect.ValueOf(k); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, true
		}
		return k.DDSKey(), true
	}
	if k, ok := any(v).(Keyed); ok {
		return k.DDSKey(), true
	}
	return nil, false
}

// sendKey substitutes the one zero byte sentinel for an empty key; the
// engine rejects empty keys on keyed topics.
func sendKey(key []byte) []byte {
	if len(key) == 0 {
		return []byte{0}
	}
	return key
}
