package broker

import (
	"sort"

	"cmdbridge/internal/model"
)

// NormalizeOptions keeps only options declared in schema, in schema order.
// Flags become true whenever they were submitted at all; valued options are
// dropped when empty and otherwise passed through unchanged.
func NormalizeOptions(raw map[string]model.RawValue, schema []model.Parameter) model.Values {
	out := model.Values{}
	for _, param := range schema {
		value, ok := raw[param.Name]
		if !ok {
			continue
		}
		if !param.AcceptValue {
			out = append(out, model.FlagValue(param.Name))
			continue
		}
		if value.Empty() {
			continue
		}
		out = append(out, fromRaw(param.Name, value))
	}
	return out
}

// NormalizeArguments drops empty and null arguments. Names are not checked
// against the schema; the execution sink reports unknown or missing ones.
// Declared arguments come first in schema order, the rest sorted by name.
func NormalizeArguments(raw map[string]model.RawValue, schema []model.Parameter) model.Values {
	out := model.Values{}
	seen := map[string]bool{}
	for _, param := range schema {
		value, ok := raw[param.Name]
		seen[param.Name] = true
		if !ok || value.Empty() {
			continue
		}
		out = append(out, fromRaw(param.Name, value))
	}

	extra := make([]string, 0, len(raw))
	for name := range raw {
		if seen[name] {
			continue
		}
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		value := raw[name]
		if value.Empty() {
			continue
		}
		out = append(out, fromRaw(name, value))
	}
	return out
}

func fromRaw(name string, value model.RawValue) model.Value {
	if value.IsList {
		return model.ListOf(name, value.List...)
	}
	return model.ScalarValue(name, value.Scalar)
}
