package main

import (
	"strings"

	"github.com/danmuck/wirechan/internal/config"
	"github.com/danmuck/wirechan/internal/observability"
	"github.com/danmuck/wirechan/internal/server"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	config string
	addr   string
	admin  string
}

var serveOpts = &serveOptions{}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveOpts.config, "config", "c", "", "node config path (toml)")
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "listen address override")
	serveCmd.Flags().StringVar(&serveOpts.admin, "admin", "", "admin http address override")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := observability.InitLogger("wirechan")
	observability.RegisterMetrics()

	cfg, err := resolveServerConfig(serveOpts)
	if err != nil {
		return err
	}
	logger.Info().
		Str("node", cfg.Name).
		Str("addr", cfg.ListenAddr).
		Str("admin", cfg.AdminAddr).
		Str("compression", cfg.Channel.Compression).
		Int("buffer_size", cfg.Channel.BufferSize).
		Msg("starting server")

	return server.New(cfg, nil).Run(cmd.Context())
}

func resolveServerConfig(opts *serveOptions) (server.Config, error) {
	cfg := server.DefaultConfig()
	if path := strings.TrimSpace(opts.config); path != "" {
		node, err := config.LoadNodeConfig(path)
		if err != nil {
			return server.Config{}, err
		}
		if cfg, err = node.ServerConfig(); err != nil {
			return server.Config{}, err
		}
	}
	if addr := strings.TrimSpace(opts.addr); addr != "" {
		cfg.ListenAddr = addr
	}
	if admin := strings.TrimSpace(opts.admin); admin != "" {
		cfg.AdminAddr = admin
	}
	return cfg, nil
}
