// Package console exposes a cobra command tree as the operation source and
// the in-process execution sink of the broker.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cmdbridge/internal/model"
)

// Factory builds a fresh command tree. It is called once per listing and
// once per execution so no flag state leaks between runs.
type Factory func() *cobra.Command

type Adapter struct {
	factory Factory
}

func New(factory Factory) *Adapter {
	return &Adapter{factory: factory}
}

// Operations lists every runnable command below the root. Hidden commands
// are included with Hidden set; filtering is the registry's job.
func (a *Adapter) Operations(ctx context.Context) ([]model.Operation, error) {
	_ = ctx
	root, err := a.root()
	if err != nil {
		return nil, err
	}
	var ops []model.Operation
	var walk func(cmd *cobra.Command, path []string, hidden bool)
	walk = func(cmd *cobra.Command, path []string, hidden bool) {
		for _, child := range cmd.Commands() {
			name := child.Name()
			if len(path) == 0 && (name == "help" || name == "completion") {
				continue
			}
			childPath := append(append([]string(nil), path...), name)
			childHidden := hidden || child.Hidden
			if child.Runnable() {
				ops = append(ops, describe(child, childPath, childHidden))
			}
			walk(child, childPath, childHidden)
		}
	}
	walk(root, nil, false)
	return ops, nil
}

// Run executes op on a fresh tree with stdin closed and all output routed to
// out. It never exits the process; errors become a non-zero exit code.
func (a *Adapter) Run(ctx context.Context, op model.Operation, input model.Input, out io.Writer) int {
	root, err := a.root()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	argv, err := BuildArgv(op, input)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	root.SetArgs(argv)
	root.SetIn(strings.NewReader(""))
	root.SetOut(out)
	root.SetErr(out)
	root.SilenceErrors = true
	root.SilenceUsage = true

	err = root.ExecuteContext(WithNonInteractive(ctx))
	if err == nil {
		return 0
	}
	code := 1
	var coder ExitCoder
	if errors.As(err, &coder) {
		code = coder.ExitCode()
	}
	if !Silent(err) {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return code
}

func (a *Adapter) root() (*cobra.Command, error) {
	if a == nil || a.factory == nil {
		return nil, fmt.Errorf("command factory is required")
	}
	root := a.factory()
	if root == nil {
		return nil, fmt.Errorf("command factory returned no root command")
	}
	return root, nil
}

// BuildArgv renders the sink input as cobra arguments: the command path,
// the options, then "--" and the positional values in declaration order.
func BuildArgv(op model.Operation, input model.Input) ([]string, error) {
	argv := append([]string{}, op.Path...)
	for _, opt := range input.Options {
		switch opt.Kind {
		case model.ValueKindFlag:
			argv = append(argv, "--"+opt.Name)
		default:
			for _, value := range opt.Strings() {
				argv = append(argv, "--"+opt.Name+"="+value)
			}
		}
	}

	known := map[string]bool{}
	for _, param := range op.Arguments {
		known[param.Name] = true
	}
	for _, arg := range input.Arguments {
		if !known[arg.Name] {
			return nil, fmt.Errorf("no such argument %q for %s", arg.Name, op.Name)
		}
	}

	var positional []string
	missing := ""
	for _, param := range op.Arguments {
		value, ok := input.Arguments.Get(param.Name)
		if !ok {
			if param.Required {
				return nil, fmt.Errorf("not enough arguments (missing: %q)", param.Name)
			}
			if missing == "" {
				missing = param.Name
			}
			continue
		}
		if missing != "" {
			return nil, fmt.Errorf("argument %q requires %q to be set", param.Name, missing)
		}
		positional = append(positional, value.Strings()...)
	}
	if len(positional) > 0 {
		argv = append(argv, "--")
		argv = append(argv, positional...)
	}
	return argv, nil
}

func describe(cmd *cobra.Command, path []string, hidden bool) model.Operation {
	op := model.Operation{
		Name:        strings.Join(path, ":"),
		Description: cmd.Short,
		Help:        strings.TrimSpace(cmd.Long),
		Hidden:      hidden,
		Arguments:   ParseUse(cmd.Use),
		Options:     []model.Parameter{},
		Path:        path,
	}
	seen := map[string]bool{}
	collect := func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" || seen[flag.Name] {
			return
		}
		seen[flag.Name] = true
		op.Options = append(op.Options, optionFromFlag(flag))
	}
	cmd.LocalFlags().VisitAll(collect)
	cmd.InheritedFlags().VisitAll(collect)
	sort.SliceStable(op.Options, func(i, j int) bool {
		return op.Options[i].Name < op.Options[j].Name
	})
	return op
}

func optionFromFlag(flag *pflag.Flag) model.Parameter {
	valueType := flag.Value.Type()
	param := model.Parameter{
		Name:        flag.Name,
		Kind:        model.ParameterKindOption,
		AcceptValue: flag.NoOptDefVal == "",
		IsArray:     strings.HasSuffix(valueType, "Slice") || strings.HasSuffix(valueType, "Array"),
		Shorthand:   flag.Shorthand,
		Description: flag.Usage,
	}
	if param.AcceptValue && !param.IsArray {
		param.Default = flag.DefValue
	}
	if values, ok := flag.Annotations[cobra.BashCompOneRequiredFlag]; ok && len(values) > 0 && values[0] == "true" {
		param.Required = true
	}
	return param
}

// ParseUse reads positional arguments from a cobra Use line: NAME is
// required, [NAME] optional and a trailing "..." marks a list.
func ParseUse(use string) []model.Parameter {
	fields := strings.Fields(use)
	params := []model.Parameter{}
	if len(fields) < 2 {
		return params
	}
	for _, field := range fields[1:] {
		required := true
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			required = false
			field = strings.TrimSuffix(strings.TrimPrefix(field, "["), "]")
		}
		isArray := false
		if strings.HasSuffix(field, "...") {
			isArray = true
			field = strings.TrimSuffix(field, "...")
		}
		field = strings.Trim(field, "<>[]")
		name := strings.ToLower(field)
		if name == "" || name == "flags" || name == "command" {
			continue
		}
		params = append(params, model.Parameter{
			Name:        name,
			Kind:        model.ParameterKindArgument,
			AcceptValue: true,
			Required:    required,
			IsArray:     isArray,
		})
	}
	return params
}
