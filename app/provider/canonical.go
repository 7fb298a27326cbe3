package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf16"

	"github.com/buger/jsonparser"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const hexDigits = "0123456789abcdef"

// maxArrayIndex is the exclusive upper bound of property names that a
// JavaScript engine treats as array indices and enumerates first.
const maxArrayIndex = uint64(1<<32 - 1)

type jsonNode struct {
	kind   jsonparser.ValueType
	raw    []byte
	str    string
	num    float64
	items  []*jsonNode
	fields *orderedmap.OrderedMap[string, *jsonNode]
}

// Canonicalize renders an IPN body the way the gateway signs it: keys of the
// top-level object and of every object reachable through objects are sorted,
// objects inside arrays keep the order they were received in, and scalars are
// re-serialized with JavaScript number and string formatting.
func Canonicalize(payload []byte) ([]byte, error) {
	root, err := parseNotificationObject(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload))
	writeNode(&buf, root, true)
	return buf.Bytes(), nil
}

func parseNotificationObject(payload []byte) (*jsonNode, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ErrMalformedPayload
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedPayload)
	}

	node, err := parseNode(trimmed, jsonparser.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return node, nil
}

func parseNode(value []byte, dataType jsonparser.ValueType) (*jsonNode, error) {
	switch dataType {
	case jsonparser.Object:
		fields := orderedmap.New[string, *jsonNode]()
		err := jsonparser.ObjectEach(value, func(key []byte, child []byte, childType jsonparser.ValueType, _ int) error {
			node, err := parseNode(child, childType)
			if err != nil {
				return err
			}
			// Repeated keys keep their first position and take the last value.
			fields.Set(string(key), node)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &jsonNode{kind: jsonparser.Object, fields: fields}, nil

	case jsonparser.Array:
		items := make([]*jsonNode, 0)
		var itemErr error
		_, err := jsonparser.ArrayEach(value, func(child []byte, childType jsonparser.ValueType, _ int, err error) {
			if itemErr != nil {
				return
			}
			if err != nil {
				itemErr = err
				return
			}
			node, err := parseNode(child, childType)
			if err != nil {
				itemErr = err
				return
			}
			items = append(items, node)
		})
		if err != nil {
			return nil, err
		}
		if itemErr != nil {
			return nil, itemErr
		}
		return &jsonNode{kind: jsonparser.Array, items: items}, nil

	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, err
		}
		return &jsonNode{kind: jsonparser.String, str: s}, nil

	case jsonparser.Number:
		f, err := strconv.ParseFloat(string(value), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, err
		}
		return &jsonNode{kind: jsonparser.Number, num: f}, nil

	case jsonparser.Boolean, jsonparser.Null:
		return &jsonNode{kind: dataType, raw: append([]byte(nil), value...)}, nil

	default:
		return nil, fmt.Errorf("unsupported json value type %s", dataType)
	}
}

func writeNode(buf *bytes.Buffer, node *jsonNode, sortKeys bool) {
	switch node.kind {
	case jsonparser.Object:
		buf.WriteByte('{')
		for i, key := range orderedKeys(node.fields, sortKeys) {
			if i > 0 {
				buf.WriteByte(',')
			}
			child, _ := node.fields.Get(key)
			writeString(buf, key)
			buf.WriteByte(':')
			writeNode(buf, child, sortKeys)
		}
		buf.WriteByte('}')
	case jsonparser.Array:
		buf.WriteByte('[')
		for i, item := range node.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeNode(buf, item, false)
		}
		buf.WriteByte(']')
	case jsonparser.String:
		writeString(buf, node.str)
	case jsonparser.Number:
		buf.WriteString(formatNumber(node.num))
	default:
		buf.Write(node.raw)
	}
}

// orderedKeys returns property names in JavaScript enumeration order: array
// index names first in numeric order, then the rest either sorted by UTF-16
// code units or in insertion order.
func orderedKeys(fields *orderedmap.OrderedMap[string, *jsonNode], sortKeys bool) []string {
	indices := make([]string, 0)
	names := make([]string, 0, fields.Len())
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := arrayIndex(pair.Key); ok {
			indices = append(indices, pair.Key)
			continue
		}
		names = append(names, pair.Key)
	}

	sort.Slice(indices, func(i, j int) bool {
		a, _ := arrayIndex(indices[i])
		b, _ := arrayIndex(indices[j])
		return a < b
	})
	if sortKeys {
		sort.SliceStable(names, func(i, j int) bool {
			return lessUTF16(names[i], names[j])
		})
	}

	return append(indices, names...)
}

func arrayIndex(key string) (uint64, bool) {
	if key == "" || len(key) > 10 {
		return 0, false
	}
	if len(key) > 1 && key[0] == '0' {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil || n >= maxArrayIndex {
		return 0, false
	}
	return n, true
}

func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// formatNumber matches Number.prototype.toString for finite values. Values
// that overflow float64 serialize as null.
func formatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	if f == 0 {
		return "0"
	}

	format := byte('f')
	if abs := math.Abs(f); abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// e-07 -> e-7
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return string(b)
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}
