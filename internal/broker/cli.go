package broker

import (
	"fmt"
	"strings"
	"unicode"

	"cmdbridge/internal/model"
)

// BuildCommandLine renders a command name and its normalized arguments and
// options as one shell-like line. The line is for display and for the async
// message payload; synchronous execution never parses it.
func BuildCommandLine(name string, args model.Values, opts model.Values) string {
	parts := []string{name}
	for _, arg := range args {
		for _, value := range arg.Strings() {
			if value == "" {
				continue
			}
			parts = append(parts, EscapeToken(value))
		}
	}
	for _, opt := range opts {
		flag := "--" + opt.Name
		if opt.Kind == model.ValueKindFlag {
			parts = append(parts, flag)
			continue
		}
		for _, value := range opt.Strings() {
			if value == "" {
				continue
			}
			parts = append(parts, flag+"="+EscapeToken(value))
		}
	}
	return strings.Join(parts, " ")
}

// EscapeToken double-quotes a token that is empty or contains whitespace,
// a quote or a backslash. Backslashes and double quotes inside are escaped.
func EscapeToken(value string) string {
	if value != "" && !needsQuoting(value) {
		return value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return `"` + value + `"`
}

func needsQuoting(value string) bool {
	return strings.IndexFunc(value, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '\'' || r == '\\'
	}) >= 0
}

// ParseCommandLine splits a line produced by BuildCommandLine back into its
// tokens.
func ParseCommandLine(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		started bool
		quoted  bool
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			started = true
		case r == '"':
			quoted = !quoted
			started = true
		case unicode.IsSpace(r) && !quoted:
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if escaped {
		return nil, fmt.Errorf("unterminated escape in command line")
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in command line")
	}
	if started {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// submissionFromTokens maps the tokens after the command name onto the
// operation's schema, the way a console would read its own command line.
// A "--name" token only counts as an option when the schema declares name;
// anything else is a positional value, since BuildCommandLine writes
// dash-leading argument values verbatim.
func submissionFromTokens(op model.Operation, tokens []string) model.Submission {
	submission := model.Submission{
		Arguments: map[string]model.RawValue{},
		Options:   map[string]model.RawValue{},
	}
	var positional []string
	afterDash := false
	for _, token := range tokens {
		if afterDash || !strings.HasPrefix(token, "--") {
			positional = append(positional, token)
			continue
		}
		if token == "--" {
			afterDash = true
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(token, "--"), "=")
		if _, declared := op.Option(name); !declared {
			positional = append(positional, token)
			continue
		}
		if !hasValue {
			submission.Options[name] = model.StringValue("1")
			continue
		}
		existing, ok := submission.Options[name]
		switch {
		case !ok:
			submission.Options[name] = model.StringValue(value)
		case existing.IsList:
			existing.List = append(existing.List, value)
			submission.Options[name] = existing
		default:
			submission.Options[name] = model.ListValue(existing.Scalar, value)
		}
	}

	for i, param := range op.Arguments {
		if len(positional) == 0 {
			break
		}
		if param.IsArray && i == len(op.Arguments)-1 {
			submission.Arguments[param.Name] = model.ListValue(positional...)
			positional = nil
			break
		}
		submission.Arguments[param.Name] = model.StringValue(positional[0])
		positional = positional[1:]
	}
	for i, value := range positional {
		submission.Arguments[fmt.Sprintf("arg%d", len(op.Arguments)+i+1)] = model.StringValue(value)
	}
	return submission
}
