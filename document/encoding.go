package document

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/nspcc-dev/docstate/internal/proto"
	"github.com/nspcc-dev/docstate/schema"
)

// extraPropertiesFieldNum carries properties not declared in the schema of
// the types allowing them. Every such property is a nested message of name
// and JSON value.
const extraPropertiesFieldNum = proto.MaxFieldNumber

// EncodeProperties serializes normalized document properties in the
// canonical form: declared fields follow in the order of their positions as
// protobuf fields numbered position+1. System properties are not encoded.
func EncodeProperties(typ *schema.DocumentType, props map[string]any) ([]byte, error) {
	var buf []byte

	for _, f := range typ.Fields() {
		v, ok := props[f.Name]
		if !ok || v == nil {
			continue
		}

		var err error

		buf, err = appendValue(buf, f, v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", f.Name, err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(props)) {
		if schema.IsSystemField(name) || props[name] == nil {
			continue
		}

		if _, ok := typ.Field(name); ok {
			continue
		}

		if !typ.AdditionalProperties {
			return nil, fmt.Errorf("property %q is not declared in document type %q", name, typ.Name)
		}

		jv, err := json.Marshal(props[name])
		if err != nil {
			return nil, fmt.Errorf("encode additional property %q: %w", name, err)
		}

		var nested []byte
		nested = proto.AppendLENField(nested, 1, []byte(name))
		nested = proto.AppendLENField(nested, 2, jv)
		buf = proto.AppendLENField(buf, extraPropertiesFieldNum, nested)
	}

	return buf, nil
}

func appendValue(buf []byte, f schema.Field, v any) ([]byte, error) {
	num := f.Position + 1

	switch f.Kind {
	case schema.KindString, schema.KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected %T value", v)
		}
		return proto.AppendLENField(buf, num, []byte(s)), nil
	case schema.KindByteArray:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("unexpected %T value", v)
		}
		return proto.AppendLENField(buf, num, b), nil
	case schema.KindInteger, schema.KindNumber:
		switch n := v.(type) {
		case int64:
			return proto.AppendSintField(buf, num, n), nil
		case float64:
			if f.Kind == schema.KindInteger {
				return nil, fmt.Errorf("unexpected fractional value %v", n)
			}
			return proto.AppendDoubleField(buf, num, n), nil
		default:
			return nil, fmt.Errorf("unexpected %T value", v)
		}
	case schema.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("unexpected %T value", v)
		}
		var u uint64
		if b {
			u = 1
		}
		return proto.AppendVarintField(buf, num, u), nil
	default:
		return nil, fmt.Errorf("unsupported field kind %s", f.Kind)
	}
}

// DecodeProperties is an inverse of EncodeProperties. Fields must follow in
// ascending order without repetitions.
func DecodeProperties(typ *schema.DocumentType, b []byte) (map[string]any, error) {
	res := make(map[string]any)
	lastNum := 0

	for len(b) > 0 {
		num, wireType, n, err := proto.ReadTag(b)
		if err != nil {
			return nil, fmt.Errorf("read field tag: %w", err)
		}

		b = b[n:]

		if num < lastNum || (num == lastNum && num != extraPropertiesFieldNum) {
			return nil, fmt.Errorf("field #%d is out of order", num)
		}

		lastNum = num

		if num == extraPropertiesFieldNum {
			name, v, n, err := readExtraProperty(wireType, b)
			if err != nil {
				return nil, err
			}

			if !typ.AdditionalProperties {
				return nil, fmt.Errorf("property %q is not declared in document type %q", name, typ.Name)
			}

			res[name] = v
			b = b[n:]

			continue
		}

		f, ok := typ.FieldByPosition(num - 1)
		if !ok {
			return nil, fmt.Errorf("field #%d is not declared in document type %q", num, typ.Name)
		}

		v, n, err := readValue(f, num, wireType, b)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", f.Name, err)
		}

		res[f.Name] = v
		b = b[n:]
	}

	return res, nil
}

func readValue(f schema.Field, num, wireType int, b []byte) (any, int, error) {
	switch f.Kind {
	case schema.KindString, schema.KindEnum, schema.KindByteArray:
		err := proto.CheckFieldType(num, wireType, proto.FieldTypeLEN)
		if err != nil {
			return nil, 0, err
		}

		ln, n, err := proto.ReadSizeLEN(b)
		if err != nil {
			return nil, 0, err
		}

		data := b[n : n+ln]
		if f.Kind == schema.KindByteArray {
			return slices.Clone(data), n + ln, nil
		}

		return string(data), n + ln, nil
	case schema.KindInteger, schema.KindNumber:
		if wireType == proto.FieldTypeI64 && f.Kind == schema.KindNumber {
			return proto.ReadDouble(b)
		}

		err := proto.CheckFieldType(num, wireType, proto.FieldTypeVARINT)
		if err != nil {
			return nil, 0, err
		}

		u, n, err := proto.ReadVarint(b)
		if err != nil {
			return nil, 0, err
		}

		return proto.DecodeZigZag(u), n, nil
	case schema.KindBoolean:
		err := proto.CheckFieldType(num, wireType, proto.FieldTypeVARINT)
		if err != nil {
			return nil, 0, err
		}

		u, n, err := proto.ReadVarint(b)
		if err != nil {
			return nil, 0, err
		}

		if u > 1 {
			return nil, 0, fmt.Errorf("invalid boolean %d", u)
		}

		return u == 1, n, nil
	default:
		return nil, 0, fmt.Errorf("unsupported field kind %s", f.Kind)
	}
}

func readExtraProperty(wireType int, b []byte) (string, any, int, error) {
	err := proto.CheckFieldType(extraPropertiesFieldNum, wireType, proto.FieldTypeLEN)
	if err != nil {
		return "", nil, 0, err
	}

	ln, n, err := proto.ReadSizeLEN(b)
	if err != nil {
		return "", nil, 0, err
	}

	nested := b[n : n+ln]
	var parts [2][]byte

	for i := range parts {
		num, wt, tn, err := proto.ReadTag(nested)
		if err != nil || num != i+1 || wt != proto.FieldTypeLEN {
			return "", nil, 0, fmt.Errorf("malformed additional property")
		}

		nested = nested[tn:]

		pl, pn, err := proto.ReadSizeLEN(nested)
		if err != nil {
			return "", nil, 0, fmt.Errorf("malformed additional property: %w", err)
		}

		parts[i] = nested[pn : pn+pl]
		nested = nested[pn+pl:]
	}

	var v any

	err = json.Unmarshal(parts[1], &v)
	if err != nil {
		return "", nil, 0, fmt.Errorf("decode additional property %q: %w", parts[0], err)
	}

	return string(parts[0]), v, n + ln, nil
}
