package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cmdbridge/internal/console"
	"cmdbridge/internal/policy"
	"cmdbridge/internal/registry"
)

var version = "dev"

// addHostCommands attaches the commands the bridge exposes. They write to
// cmd.OutOrStdout so captured runs see their output.
func addHostCommands(root *cobra.Command) {
	appCmd := &cobra.Command{Use: "app", Short: "Application commands"}
	appCmd.AddCommand(newAppVersionCommand(), newAppEchoCommand())

	policyCmd := &cobra.Command{Use: "policy", Short: "Inspect and manage the bridge policy"}
	policyCmd.AddCommand(newPolicyShowCommand(), newPolicyValidateCommand(), newPolicyResetCommand())

	commandsCmd := &cobra.Command{Use: "commands", Short: "Inspect the bridged command list"}
	commandsCmd.AddCommand(newCommandsListCommand(), newCommandsDescribeCommand())

	root.AddCommand(appCmd, policyCmd, commandsCmd)
}

func newAppVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cmdbridge version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cmdbridge %s\n", version)
			return nil
		},
	}
}

func newAppEchoCommand() *cobra.Command {
	var (
		upper  bool
		repeat int
	)
	cmd := &cobra.Command{
		Use:   "echo MESSAGE...",
		Short: "Print the message back",
		Long:  "Join the message words with spaces and print them, optionally upper-cased and repeated.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repeat < 1 {
				return console.Exitf(2, "--repeat must be at least 1")
			}
			message := strings.Join(args, " ")
			if upper {
				message = strings.ToUpper(message)
			}
			for i := 0; i < repeat; i++ {
				fmt.Fprintln(cmd.OutOrStdout(), message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&upper, "upper", false, "Upper-case the message")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "How many times to print the message")
	return cmd
}

func newPolicyShowCommand() *cobra.Command {
	var (
		path   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := policy.Load(path)
			if err != nil {
				return err
			}
			var b []byte
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "yaml", "yml":
				b, err = yaml.Marshal(cfg)
			case "", "json":
				b, err = json.MarshalIndent(cfg, "", "  ")
				b = append(b, '\n')
			default:
				return console.Exitf(2, "--format must be json or yaml, got %q", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", policy.DefaultPolicyPath, "Path to policy file")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|yaml")
	return cmd
}

func newPolicyValidateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the policy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, finalPath, err := policy.Load(path)
			if err != nil {
				return console.Exitf(2, "%v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "policy ok: %s\n", finalPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", policy.DefaultPolicyPath, "Path to policy file")
	return cmd
}

func newPolicyResetCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the policy file with defaults",
		Long:  "Write the default policy to --path. An existing file is only replaced with --force or after confirmation on a terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				if !console.Interactive(cmd.Context()) {
					return console.Exitf(2, "refusing to overwrite %s without --force", path)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Overwrite %s? [y/N] ", path)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return console.Exit(1)
				}
			}
			if err := policy.SaveDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default policy to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", policy.DefaultPolicyPath, "Path to policy file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite without asking")
	return cmd
}

func newHostRegistry(path string) (*registry.Registry, error) {
	cfg, _, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	return registry.New(console.New(hostCommandFactory), registry.Options{
		Namespaces:    policy.AllowedNamespaces(cfg),
		PinnedGroup:   cfg.Listing.PinnedGroup,
		FallbackGroup: cfg.Listing.FallbackGroup,
	}), nil
}

func newCommandsListCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the commands the bridge exposes, grouped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newHostRegistry(path)
			if err != nil {
				return err
			}
			groups, err := reg.Groups(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, group := range groups {
				fmt.Fprintf(out, "%s\n", group.Name)
				for _, op := range group.Operations {
					fmt.Fprintf(out, "  %-24s %s\n", op.Name, op.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", policy.DefaultPolicyPath, "Path to policy file")
	return cmd
}

func newCommandsDescribeCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "describe NAME",
		Short: "Print one command's schema as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := newHostRegistry(path)
			if err != nil {
				return err
			}
			op, err := reg.Find(cmd.Context(), args[0])
			if err != nil {
				return console.Exitf(2, "%v", err)
			}
			b, err := json.MarshalIndent(op, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", policy.DefaultPolicyPath, "Path to policy file")
	return cmd
}
