package record

import (
	"fmt"

	"findb/pkg/kv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MarshalValue encodes v as a google.protobuf.Any wrapping the matching
// well-known wrapper type. Invalid values cannot be encoded.
func MarshalValue(v kv.Value) ([]byte, error) {
	var m proto.Message
	switch v.Kind() {
	case kv.KindInt:
		n, _ := v.Int()
		m = wrapperspb.Int64(n)
	case kv.KindText:
		s, _ := v.Text()
		m = wrapperspb.String(s)
	case kv.KindFloat:
		f, _ := v.Float()
		m = wrapperspb.Double(f)
	case kv.KindBool:
		b, _ := v.Bool()
		m = wrapperspb.Bool(b)
	case kv.KindBytes:
		p, _ := v.Bytes()
		m = wrapperspb.Bytes(p)
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind())
	}

	a, err := anypb.New(m)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(a)
}

// UnmarshalValue decodes a value written by MarshalValue.
func UnmarshalValue(b []byte) (kv.Value, error) {
	var a anypb.Any
	if err := proto.Unmarshal(b, &a); err != nil {
		return kv.Value{}, fmt.Errorf("decoding value: %w", err)
	}
	m, err := a.UnmarshalNew()
	if err != nil {
		return kv.Value{}, fmt.Errorf("decoding value payload: %w", err)
	}

	switch m := m.(type) {
	case *wrapperspb.Int64Value:
		return kv.Int(m.GetValue()), nil
	case *wrapperspb.StringValue:
		return kv.Text(m.GetValue()), nil
	case *wrapperspb.DoubleValue:
		return kv.Float(m.GetValue()), nil
	case *wrapperspb.BoolValue:
		return kv.Bool(m.GetValue()), nil
	case *wrapperspb.BytesValue:
		return kv.Bytes(m.GetValue()), nil
	default:
		return kv.Value{}, fmt.Errorf("unsupported value type %s", a.GetTypeUrl())
	}
}
