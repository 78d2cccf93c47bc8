package search

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ValueKind tags the concrete type held by a Value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInt
	ValueFloat
)

// Value is one sampled parameter value. The zero Value is the empty
// string.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
}

func CategoricalValue(s string) Value { return Value{Kind: ValueString, Str: s} }
func IntValue(i int64) Value          { return Value{Kind: ValueInt, Int: i} }
func FloatValue(f float64) Value      { return Value{Kind: ValueFloat, Float: f} }

// String renders the value the way it reads in logs and tables.
func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Str
	}
}

// AsFloat collapses numeric kinds to float64 for the samplers.
func (v Value) AsFloat() float64 {
	switch v.Kind {
	case ValueInt:
		return float64(v.Int)
	case ValueFloat:
		return v.Float
	default:
		return 0
	}
}

type valueJSON struct {
	Kind  string   `json:"kind"`
	Str   string   `json:"str,omitempty"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{}
	switch v.Kind {
	case ValueString:
		out.Kind = "categorical"
		out.Str = v.Str
	case ValueInt:
		out.Kind = "int"
		out.Int = &v.Int
	case ValueFloat:
		out.Kind = "float"
		out.Float = &v.Float
	default:
		return nil, fmt.Errorf("unknown value kind %d", int(v.Kind))
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "categorical", "":
		*v = CategoricalValue(in.Str)
	case "int":
		if in.Int == nil {
			return fmt.Errorf("int value missing payload")
		}
		*v = IntValue(*in.Int)
	case "float":
		if in.Float == nil {
			return fmt.Errorf("float value missing payload")
		}
		*v = FloatValue(*in.Float)
	default:
		return fmt.Errorf("unknown value kind %q", in.Kind)
	}
	return nil
}
