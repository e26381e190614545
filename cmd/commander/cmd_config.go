package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/commander/internal/commander/runtime"
)

// newConfigCmd registers subcommands that inspect or mutate settings.yaml.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify settings.yaml",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd(), newConfigPathCmd())
	return cmd
}

// newConfigGetCmd prints the value referenced by a dotted key.
func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Read a setting by dotted key (e.g. languages.python.executable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readSettingsNode(cfg.SettingsPath)
			if err != nil {
				return err
			}
			value, ok := getSettingsValue(doc, args[0])
			if !ok {
				return fmt.Errorf("key %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), prettyValue(value))
			return nil
		},
	}
}

// newConfigSetCmd updates a dotted key with the provided value.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Update a setting; list values are comma-separated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readSettingsNode(cfg.SettingsPath)
			if err != nil {
				return err
			}
			if err := setSettingsValue(doc, args[0], args[1]); err != nil {
				return err
			}
			settings, err := settingsFromNode(doc)
			if err != nil {
				return err
			}
			return runWithRuntime(cmd, func(_ context.Context, rt *runtimesvc.Runtime) error {
				if err := rt.SaveSettings(settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
				return nil
			})
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), cfg.SettingsPath)
			return nil
		},
	}
}
