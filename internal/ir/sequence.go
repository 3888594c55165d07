package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sequence is an ordered sequence of items: the one cross-engine value.
type Sequence []Item

// ErrNoEffectiveBoolean is returned when a sequence has no effective boolean
// value (XPath error FORG0006).
var ErrNoEffectiveBoolean = errors.New("FORG0006: effective boolean value is not defined for this sequence")

// StringValue returns the string projection of the whole sequence: the
// string value of each item joined by a single space.
func (s Sequence) StringValue() string {
	parts := make([]string, len(s))
	for i, it := range s {
		parts[i] = it.StringValue()
	}
	return strings.Join(parts, " ")
}

// EffectiveBoolean computes the XPath effective boolean value.
func (s Sequence) EffectiveBoolean() (bool, error) {
	if len(s) == 0 {
		return false, nil
	}
	if _, ok := s[0].(NodeRef); ok {
		return true, nil
	}
	if len(s) > 1 {
		return false, ErrNoEffectiveBoolean
	}
	switch v := s[0].(type) {
	case Boolean:
		return bool(v), nil
	case String:
		return v.Value != "", nil
	case Double:
		f := float64(v)
		return f != 0 && !math.IsNaN(f), nil
	case Decimal:
		return v.Value != nil && !v.Value.IsZero(), nil
	default:
		return false, ErrNoEffectiveBoolean
	}
}

// Markup returns the serialization of the sequence: node markup for nodes
// and string values for atomics, adjacent atomics separated by a space.
func (s Sequence) Markup() string {
	var b strings.Builder
	prevAtomic := false
	for _, it := range s {
		if n, ok := it.(NodeRef); ok {
			if n.Markup != "" {
				b.WriteString(n.Markup)
			} else {
				b.WriteString(n.Value)
			}
			prevAtomic = false
			continue
		}
		if prevAtomic {
			b.WriteByte(' ')
		}
		b.WriteString(it.StringValue())
		prevAtomic = true
	}
	return b.String()
}

// jsonItem is the tagged wire form of an Item.
type jsonItem struct {
	Kind      string   `json:"kind"`
	Value     string   `json:"value,omitempty"`
	Type      string   `json:"type,omitempty"`
	Node      NodeKind `json:"node,omitempty"`
	Name      string   `json:"name,omitempty"`
	Markup    string   `json:"markup,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
}

// MarshalJSON implements json.Marshaler with a tagged item encoding.
func (s Sequence) MarshalJSON() ([]byte, error) {
	out := make([]jsonItem, len(s))
	for i, it := range s {
		ji, err := toJSONItem(it)
		if err != nil {
			return nil, fmt.Errorf("sequence[%d]: %w", i, err)
		}
		out[i] = ji
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var raw []jsonItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	seq := make(Sequence, len(raw))
	for i, ji := range raw {
		it, err := fromJSONItem(ji)
		if err != nil {
			return fmt.Errorf("sequence[%d]: %w", i, err)
		}
		seq[i] = it
	}
	*s = seq
	return nil
}

func toJSONItem(it Item) (jsonItem, error) {
	switch v := it.(type) {
	case String:
		return jsonItem{Kind: "string", Value: v.Value, Type: v.Type}, nil
	case Boolean:
		return jsonItem{Kind: "boolean", Value: v.StringValue()}, nil
	case Double:
		return jsonItem{Kind: "double", Value: strconv.FormatFloat(float64(v), 'g', -1, 64)}, nil
	case Decimal:
		return jsonItem{Kind: "decimal", Value: v.StringValue(), Type: v.Type}, nil
	case NodeRef:
		return jsonItem{Kind: "node", Node: v.Kind, Name: v.Name, Value: v.Value, Markup: v.Markup}, nil
	case QName:
		return jsonItem{Kind: "qname", Value: v.Local, Prefix: v.Prefix, Namespace: v.Namespace}, nil
	default:
		return jsonItem{}, fmt.Errorf("unknown item type: %T", it)
	}
}

func fromJSONItem(ji jsonItem) (Item, error) {
	switch ji.Kind {
	case "string":
		return String{Value: ji.Value, Type: ji.Type}, nil
	case "boolean":
		return Boolean(ji.Value == "true"), nil
	case "double":
		f, err := strconv.ParseFloat(ji.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("double %q: %w", ji.Value, err)
		}
		return Double(f), nil
	case "decimal":
		d, err := ParseDecimal(ji.Value)
		if err != nil {
			return nil, err
		}
		return Decimal{Value: d, Type: ji.Type}, nil
	case "node":
		return NodeRef{Kind: ji.Node, Name: ji.Name, Value: ji.Value, Markup: ji.Markup}, nil
	case "qname":
		return QName{Prefix: ji.Prefix, Local: ji.Value, Namespace: ji.Namespace}, nil
	default:
		return nil, fmt.Errorf("unknown item kind %q", ji.Kind)
	}
}
