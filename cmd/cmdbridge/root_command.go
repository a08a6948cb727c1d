package main

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/spf13/cobra"
)

func executeCLI(ctx context.Context, args []string) error {
	rootCmd, err := newRootCommand()
	if err != nil {
		return err
	}
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand builds the whole binary. The same tree is what the bridge
// lists and executes, so infrastructure commands are hidden.
func newRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "cmdbridge",
		Short:         "list, describe and run host commands over HTTP or a message queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	infrastructure := []cmds.Command{}
	serveCmd, err := newServeGlazedCommand()
	if err != nil {
		return nil, err
	}
	infrastructure = append(infrastructure, serveCmd)

	workerCmd, err := newWorkerGlazedCommand()
	if err != nil {
		return nil, err
	}
	infrastructure = append(infrastructure, workerCmd)

	execCmd, err := newExecGlazedCommand()
	if err != nil {
		return nil, err
	}
	infrastructure = append(infrastructure, execCmd)

	policyInitCmd, err := newPolicyInitGlazedCommand()
	if err != nil {
		return nil, err
	}
	infrastructure = append(infrastructure, policyInitCmd)

	for _, command := range infrastructure {
		cobraCommand, err := buildGlazedCobraCommand(command)
		if err != nil {
			return nil, err
		}
		cobraCommand.Hidden = true
		rootCmd.AddCommand(cobraCommand)
	}

	addHostCommands(rootCmd)
	return rootCmd, nil
}

// hostCommandFactory is the operation source of the bridge: a fresh tree per
// listing and per execution.
func hostCommandFactory() *cobra.Command {
	rootCmd, err := newRootCommand()
	if err != nil {
		return nil
	}
	return rootCmd
}

func buildGlazedCobraCommand(command cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(
		command,
		cli.WithParserConfig(cli.CobraParserConfig{
			ShortHelpLayers: []string{layers.DefaultSlug},
			MiddlewaresFunc: cli.CobraCommandDefaultMiddlewares,
		}),
		cli.WithCobraMiddlewaresFunc(cli.CobraCommandDefaultMiddlewares),
		cli.WithCobraShortHelpLayers(layers.DefaultSlug),
	)
}
