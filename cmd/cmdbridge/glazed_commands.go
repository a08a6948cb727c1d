package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"cmdbridge/internal/console"
	"cmdbridge/internal/dispatch"
	"cmdbridge/internal/model"
	"cmdbridge/internal/policy"
	"cmdbridge/internal/server"
	"cmdbridge/internal/serviceapi"
)

type transportSettings struct {
	PolicyPath string `glazed.parameter:"policy"`
	Transport  string `glazed.parameter:"transport"`
	RedisURL   string `glazed.parameter:"redis-url"`
	Debug      bool   `glazed.parameter:"debug"`
}

func transportFlags() []*parameters.ParameterDefinition {
	return []*parameters.ParameterDefinition{
		parameters.NewParameterDefinition(
			"policy",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to policy file (defaults to .cmdbridge/policy.json)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"transport",
			parameters.ParameterTypeString,
			parameters.WithHelp("Override transport.driver: none|memory|redis"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"redis-url",
			parameters.ParameterTypeString,
			parameters.WithHelp("Override transport.redis.url"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"debug",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Log message bus debug output"),
			parameters.WithDefault(false),
		),
	}
}

// loadPolicy reads the policy file and applies flag overrides on top.
func loadPolicy(settings transportSettings) (policy.Config, error) {
	cfg, path, err := policy.Load(settings.PolicyPath)
	if err != nil {
		return cfg, err
	}
	if driver := strings.TrimSpace(settings.Transport); driver != "" {
		cfg.Transport.Driver = driver
	}
	if redisURL := strings.TrimSpace(settings.RedisURL); redisURL != "" {
		cfg.Transport.Redis.URL = redisURL
	}
	if err := policy.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}

func newLocalCore(ctx context.Context, cfg policy.Config, logger *log.Logger, debug bool) (*serviceapi.LocalCore, error) {
	return serviceapi.NewLocalCore(ctx, serviceapi.LocalOptions{
		Config:  cfg,
		Factory: hostCommandFactory,
		Logger:  logger,
		Debug:   debug,
	})
}

type serveGlazedCommand struct {
	*cmds.CommandDescription
}

type serveSettings struct {
	PolicyPath      string `glazed.parameter:"policy"`
	Transport       string `glazed.parameter:"transport"`
	RedisURL        string `glazed.parameter:"redis-url"`
	Debug           bool   `glazed.parameter:"debug"`
	Addr            string `glazed.parameter:"addr"`
	ShutdownTimeout string `glazed.parameter:"shutdown-timeout"`
}

func newServeGlazedCommand() (*serveGlazedCommand, error) {
	flags := append(transportFlags(),
		parameters.NewParameterDefinition(
			"addr",
			parameters.ParameterTypeString,
			parameters.WithHelp("HTTP listen address (defaults to server.addr from policy)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"shutdown-timeout",
			parameters.ParameterTypeString,
			parameters.WithHelp("Graceful shutdown timeout"),
			parameters.WithDefault("5s"),
		),
	)
	return &serveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Run the command bridge HTTP server"),
			cmds.WithLong("Serve the command list, describe and run API plus the web page. With the memory transport the async worker runs in the same process."),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *serveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &serveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	shutdownTimeout, err := parseDurationSetting("shutdown-timeout", settings.ShutdownTimeout)
	if err != nil {
		return err
	}
	cfg, err := loadPolicy(transportSettings{
		PolicyPath: settings.PolicyPath,
		Transport:  settings.Transport,
		RedisURL:   settings.RedisURL,
	})
	if err != nil {
		return err
	}
	addr := strings.TrimSpace(settings.Addr)
	if addr == "" {
		addr = cfg.Server.Addr
	}

	logger := log.New(os.Stdout, "", 0)
	core, err := newLocalCore(ctx, cfg, logger, settings.Debug)
	if err != nil {
		return err
	}
	if cfg.Transport.Driver == policy.TransportMemory {
		if err := core.StartWorker(ctx); err != nil {
			core.Shutdown()
			return err
		}
	}

	runtime, err := server.NewRuntime(server.Options{
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, core, logger)
	if err != nil {
		core.Shutdown()
		return err
	}
	return runtime.Run(ctx)
}

var _ cmds.BareCommand = &serveGlazedCommand{}

type workerGlazedCommand struct {
	*cmds.CommandDescription
}

func newWorkerGlazedCommand() (*workerGlazedCommand, error) {
	return &workerGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"worker",
			cmds.WithShort("Consume and execute dispatched commands"),
			cmds.WithLong("Read command lines from the configured redis stream and run each one in-process, logging exit code, duration and output."),
			cmds.WithFlags(transportFlags()...),
		),
	}, nil
}

func (c *workerGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &transportSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	cfg, err := loadPolicy(*settings)
	if err != nil {
		return err
	}
	if cfg.Transport.Driver != policy.TransportRedis {
		return fmt.Errorf("worker needs the redis transport, got %q (the memory transport runs inside serve)", cfg.Transport.Driver)
	}

	logger := log.New(os.Stdout, "", 0)
	core, err := newLocalCore(ctx, cfg, logger, settings.Debug)
	if err != nil {
		return err
	}
	defer core.Shutdown()
	if err := core.StartWorker(ctx); err != nil {
		return err
	}
	core.WaitWorker()
	return nil
}

var _ cmds.BareCommand = &workerGlazedCommand{}

type execGlazedCommand struct {
	*cmds.CommandDescription
}

type execSettings struct {
	PolicyPath string   `glazed.parameter:"policy"`
	Transport  string   `glazed.parameter:"transport"`
	RedisURL   string   `glazed.parameter:"redis-url"`
	Debug      bool     `glazed.parameter:"debug"`
	Name       string   `glazed.parameter:"name"`
	Arguments  []string `glazed.parameter:"arg"`
	Options    []string `glazed.parameter:"opt"`
	Async      bool     `glazed.parameter:"async"`
	Server     string   `glazed.parameter:"server"`
	Timeout    string   `glazed.parameter:"timeout"`
}

func newExecGlazedCommand() (*execGlazedCommand, error) {
	flags := append(transportFlags(),
		parameters.NewParameterDefinition(
			"name",
			parameters.ParameterTypeString,
			parameters.WithHelp("Command to run, e.g. app:version"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"arg",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Argument as name=value (repeatable)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"opt",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Option as name=value, or name for a flag (repeatable; repeat a name for a list)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"async",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Dispatch to the message transport instead of running inline"),
			parameters.WithDefault(false),
		),
		parameters.NewParameterDefinition(
			"server",
			parameters.ParameterTypeString,
			parameters.WithHelp("Base URL of a running cmdbridge server; runs locally when empty"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"timeout",
			parameters.ParameterTypeString,
			parameters.WithHelp("HTTP timeout when --server is set"),
			parameters.WithDefault("60s"),
		),
	)
	return &execGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"exec",
			cmds.WithShort("Run one bridged command through the broker"),
			cmds.WithLong("Normalize the given arguments and options against the command schema and run it the way the HTTP API would, locally or against --server."),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *execGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &execSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	name := strings.TrimSpace(settings.Name)
	if name == "" {
		return fmt.Errorf("--name is required")
	}
	submission, err := buildSubmission(settings.Arguments, settings.Options, settings.Async)
	if err != nil {
		return err
	}

	var core serviceapi.Core
	if serverURL := strings.TrimSpace(settings.Server); serverURL != "" {
		timeout, err := parseDurationSetting("timeout", settings.Timeout)
		if err != nil {
			return err
		}
		core = serviceapi.NewRemoteCore(serverURL, timeout)
	} else {
		cfg, err := loadPolicy(transportSettings{
			PolicyPath: settings.PolicyPath,
			Transport:  settings.Transport,
			RedisURL:   settings.RedisURL,
		})
		if err != nil {
			return err
		}
		if submission.Async && cfg.Transport.Driver == policy.TransportMemory {
			return fmt.Errorf("%w: the memory transport only delivers inside a running serve process, use --server or the redis transport", dispatch.ErrUnavailable)
		}
		local, err := newLocalCore(ctx, cfg, log.New(os.Stderr, "", 0), settings.Debug)
		if err != nil {
			return err
		}
		core = local
	}
	defer core.Shutdown()

	result, err := core.Run(ctx, name, submission)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, result)
}

var _ cmds.BareCommand = &execGlazedCommand{}

type policyInitGlazedCommand struct {
	*cmds.CommandDescription
}

type policyInitSettings struct {
	Path string `glazed.parameter:"path"`
}

func newPolicyInitGlazedCommand() (*policyInitGlazedCommand, error) {
	return &policyInitGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"policy-init",
			cmds.WithShort("Write a default policy file"),
			cmds.WithLong("Create a default cmdbridge policy file at the target path. A .yaml or .yml path writes YAML."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"path",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to policy file"),
					parameters.WithDefault(policy.DefaultPolicyPath),
				),
			),
		),
	}, nil
}

func (c *policyInitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &policyInitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := policy.SaveDefault(settings.Path); err != nil {
		return err
	}
	fmt.Printf("Wrote default policy to %s\n", settings.Path)
	return nil
}

var _ cmds.BareCommand = &policyInitGlazedCommand{}

func parseDurationSetting(flagName string, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid --%s duration %q: %w", flagName, value, err)
	}
	return duration, nil
}

// buildSubmission turns repeated name=value pairs into a submission. A bare
// option name is a flag; a name given twice becomes a list.
func buildSubmission(args []string, opts []string, async bool) (model.Submission, error) {
	submission := model.Submission{
		Arguments: map[string]model.RawValue{},
		Options:   map[string]model.RawValue{},
		Async:     async,
	}
	for _, raw := range args {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return model.Submission{}, fmt.Errorf("invalid --arg %q (expected name=value)", raw)
		}
		addRawValue(submission.Arguments, name, value)
	}
	for _, raw := range opts {
		name, value, ok := strings.Cut(raw, "=")
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "--"))
		if name == "" {
			return model.Submission{}, fmt.Errorf("invalid --opt %q", raw)
		}
		if !ok {
			value = "1"
		}
		addRawValue(submission.Options, name, value)
	}
	return submission, nil
}

func addRawValue(target map[string]model.RawValue, name string, value string) {
	existing, ok := target[name]
	switch {
	case !ok:
		target[name] = model.StringValue(value)
	case existing.IsList:
		target[name] = model.ListValue(append(existing.List, value)...)
	default:
		target[name] = model.ListValue(existing.Scalar, value)
	}
}

func printResult(out io.Writer, result model.ExecutionResult) error {
	fmt.Fprintf(out, "$ %s\n", result.CLI)
	if result.Mode == model.ExecutionModeAsync {
		fmt.Fprintf(out, "dispatched: message_id=%s\n%s\n", result.MessageID, result.Message)
		return nil
	}
	fmt.Fprint(out, result.Output)
	if result.Output != "" && !strings.HasSuffix(result.Output, "\n") {
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "exit_code=%d duration_ms=%d\n", result.ExitCode, result.DurationMs)
	if result.ExitCode != 0 {
		return console.Exit(result.ExitCode)
	}
	return nil
}
