package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ParameterKind string

const (
	ParameterKindArgument ParameterKind = "argument"
	ParameterKindOption   ParameterKind = "option"
)

type Parameter struct {
	Name        string        `json:"name"`
	Kind        ParameterKind `json:"kind"`
	AcceptValue bool          `json:"accept_value"`
	Required    bool          `json:"required"`
	IsArray     bool          `json:"is_array,omitempty"`
	Default     string        `json:"default,omitempty"`
	Shorthand   string        `json:"shorthand,omitempty"`
	Description string        `json:"description,omitempty"`
}

// IsFlag reports whether the parameter is a boolean option that carries no value.
func (p Parameter) IsFlag() bool {
	return p.Kind == ParameterKindOption && !p.AcceptValue
}

type Operation struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Help        string      `json:"help,omitempty"`
	Hidden      bool        `json:"-"`
	Arguments   []Parameter `json:"arguments"`
	Options     []Parameter `json:"options"`
	Path        []string    `json:"-"`
}

func (o Operation) Argument(name string) (Parameter, bool) {
	for _, param := range o.Arguments {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

func (o Operation) Option(name string) (Parameter, bool) {
	for _, param := range o.Options {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

type Group struct {
	Name       string      `json:"name"`
	Operations []Operation `json:"commands"`
}

// RawValue is one submitted form value. It decodes from JSON null, a string,
// a number, a bool or an array of scalars.
type RawValue struct {
	Null   bool
	IsList bool
	Scalar string
	List   []string
}

func NullValue() RawValue {
	return RawValue{Null: true}
}

func StringValue(value string) RawValue {
	return RawValue{Scalar: value}
}

func ListValue(values ...string) RawValue {
	return RawValue{IsList: true, List: append([]string(nil), values...)}
}

// Empty reports whether the value counts as "not provided".
func (v RawValue) Empty() bool {
	if v.Null {
		return true
	}
	if v.IsList {
		return len(v.List) == 0
	}
	return v.Scalar == ""
}

func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			scalar, isNull, err := decodeScalar(item)
			if err != nil {
				return err
			}
			if isNull {
				continue
			}
			list = append(list, scalar)
		}
		*v = RawValue{IsList: true, List: list}
		return nil
	}
	scalar, isNull, err := decodeScalar(data)
	if err != nil {
		return err
	}
	if isNull {
		*v = NullValue()
		return nil
	}
	*v = StringValue(scalar)
	return nil
}

func (v RawValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Null:
		return []byte("null"), nil
	case v.IsList:
		list := v.List
		if list == nil {
			list = []string{}
		}
		return json.Marshal(list)
	default:
		return json.Marshal(v.Scalar)
	}
}

func decodeScalar(data []byte) (string, bool, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", true, nil
	}
	var decoded any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return "", false, err
	}
	switch typed := decoded.(type) {
	case string:
		return typed, false, nil
	case json.Number:
		return typed.String(), false, nil
	case bool:
		return strconv.FormatBool(typed), false, nil
	default:
		return "", false, fmt.Errorf("unsupported value %s", strings.TrimSpace(string(data)))
	}
}

type Submission struct {
	Arguments map[string]RawValue `json:"arguments"`
	Options   map[string]RawValue `json:"options"`
	Async     bool                `json:"async"`
}

type ValueKind string

const (
	ValueKindFlag   ValueKind = "flag"
	ValueKindScalar ValueKind = "scalar"
	ValueKindList   ValueKind = "list"
)

// Value is one normalized argument or option. It never holds an empty or
// null value; such entries are dropped during normalization.
type Value struct {
	Name   string    `json:"name"`
	Kind   ValueKind `json:"kind"`
	Scalar string    `json:"scalar,omitempty"`
	List   []string  `json:"list,omitempty"`
}

func FlagValue(name string) Value {
	return Value{Name: name, Kind: ValueKindFlag}
}

func ScalarValue(name string, value string) Value {
	return Value{Name: name, Kind: ValueKindScalar, Scalar: value}
}

func ListOf(name string, values ...string) Value {
	return Value{Name: name, Kind: ValueKindList, List: append([]string(nil), values...)}
}

// Strings returns the value's textual elements: none for a flag, one for a
// scalar and one per element for a list.
func (v Value) Strings() []string {
	switch v.Kind {
	case ValueKindScalar:
		return []string{v.Scalar}
	case ValueKindList:
		return append([]string(nil), v.List...)
	default:
		return nil
	}
}

type Values []Value

func (vs Values) Get(name string) (Value, bool) {
	for _, value := range vs {
		if value.Name == name {
			return value, true
		}
	}
	return Value{}, false
}

func (vs Values) Names() []string {
	out := make([]string, 0, len(vs))
	for _, value := range vs {
		out = append(out, value.Name)
	}
	return out
}

// Input is the structured payload handed to an execution sink.
type Input struct {
	Command   string `json:"command"`
	Arguments Values `json:"arguments"`
	Options   Values `json:"options"`
}

type ExecutionMode string

const (
	ExecutionModeSync  ExecutionMode = "sync"
	ExecutionModeAsync ExecutionMode = "async"
)

type ExecutionResult struct {
	Mode         ExecutionMode `json:"mode"`
	CLI          string        `json:"cli"`
	ExitCode     int           `json:"exitCode"`
	DurationMs   int64         `json:"durationMs"`
	Output       string        `json:"output"`
	Acknowledged bool          `json:"acknowledged"`
	MessageID    string        `json:"messageId,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// MarshalJSON emits only the fields that belong to the result's mode.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	if r.Mode == ExecutionModeAsync {
		return json.Marshal(struct {
			Mode         ExecutionMode `json:"mode"`
			CLI          string        `json:"cli"`
			Acknowledged bool          `json:"acknowledged"`
			MessageID    string        `json:"messageId,omitempty"`
			Message      string        `json:"message,omitempty"`
		}{r.Mode, r.CLI, r.Acknowledged, r.MessageID, r.Message})
	}
	return json.Marshal(struct {
		Mode       ExecutionMode `json:"mode"`
		CLI        string        `json:"cli"`
		ExitCode   int           `json:"exitCode"`
		DurationMs int64         `json:"durationMs"`
		Output     string        `json:"output"`
	}{r.Mode, r.CLI, r.ExitCode, r.DurationMs, r.Output})
}
