package main

import (
	"fmt"

	"github.com/danmuck/wirechan/internal/config"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Write a node config template",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "wirechan.toml"
		if len(args) > 0 {
			target = args[0]
		}
		if err := config.WriteTemplate(target, "node", configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote node config to %s\n", target)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a node config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadNodeConfig(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "validated node config at %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateCmd)
	configCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}
