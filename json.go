package unityfile

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"unicode/utf8"
)

// MarshalValue encodes v as JSON. Struct fields keep their declared order.
// Strings that are not valid UTF-8 are encoded as "base64:" followed by the
// base64 encoding of the content. TypelessData is encoded as an array of
// byte values.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendValueJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *ValueStruct) MarshalJSON() ([]byte, error) {
	return MarshalValue(t)
}

func appendFloatJSON(buf *bytes.Buffer, f float64, bits int) {
	switch {
	case math.IsNaN(f):
		buf.WriteString(`"NaN"`)
	case math.IsInf(f, 1):
		buf.WriteString(`"Infinity"`)
	case math.IsInf(f, -1):
		buf.WriteString(`"-Infinity"`)
	default:
		buf.Write(strconv.AppendFloat(nil, f, 'g', -1, bits))
	}
}

func appendStringJSON(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		s = "base64:" + base64.StdEncoding.EncodeToString([]byte(s))
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func appendValueJSON(buf *bytes.Buffer, value Value) error {
	switch value := value.(type) {
	case nil:
		buf.WriteString("null")
	case ValueSInt8, ValueSInt16, ValueSInt32, ValueSInt64:
		n, _ := Int(value)
		buf.Write(strconv.AppendInt(nil, n, 10))
	case ValueUInt8:
		buf.Write(strconv.AppendUint(nil, uint64(value), 10))
	case ValueUInt16:
		buf.Write(strconv.AppendUint(nil, uint64(value), 10))
	case ValueUInt32:
		buf.Write(strconv.AppendUint(nil, uint64(value), 10))
	case ValueUInt64:
		buf.Write(strconv.AppendUint(nil, uint64(value), 10))
	case ValueFloat:
		appendFloatJSON(buf, float64(value), 32)
	case ValueDouble:
		appendFloatJSON(buf, float64(value), 64)
	case ValueBool:
		buf.WriteString(value.String())
	case ValueString:
		return appendStringJSON(buf, string(value))
	case ValueBytes:
		buf.WriteByte('[')
		for i, b := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(strconv.AppendUint(nil, uint64(b), 10))
		}
		buf.WriteByte(']')
	case ValueArray:
		buf.WriteByte('[')
		for i, v := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValueJSON(buf, v); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ValuePair:
		buf.WriteByte('[')
		if err := appendValueJSON(buf, value.First); err != nil {
			return err
		}
		buf.WriteByte(',')
		if err := appendValueJSON(buf, value.Second); err != nil {
			return err
		}
		buf.WriteByte(']')
	case *ValueStruct:
		if value == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, f := range value.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendStringJSON(buf, f.Name); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendValueJSON(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}
