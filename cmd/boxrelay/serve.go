package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/boxrelay/internal/app"
	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		listen    string
		admin     string
		codecName string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the front-end and its worker pool",
		Example: strings.TrimSpace(`
  boxrelay serve --config boxrelay.toml
  boxrelay serve --listen 127.0.0.1:7010 --admin 127.0.0.1:7011`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if changed["listen"] {
				cfg.Server.ListenAddr = listen
			}
			if changed["admin"] {
				cfg.Admin.ListenAddr = admin
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			c, err := codecByName(codecName)
			if err != nil {
				return err
			}
			r, err := demoRouter()
			if err != nil {
				return fmt.Errorf("build routes: %w", err)
			}
			opts := []app.Option{app.WithRoute(demoRoute(cfg))}
			if *configPath != "" {
				opts = append(opts, app.WithConfigPath(*configPath))
			}
			return app.New(cfg, c, r, opts...).Run(context.Background())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "TCP listen address (overrides server.listen_addr)")
	cmd.Flags().StringVar(&admin, "admin", "", "admin HTTP address (overrides admin.listen_addr)")
	cmd.Flags().StringVar(&codecName, "codec", codecBox, "wire codec: box or json")
	return cmd
}

// demoRoute sends the sleep command to a group named "slow" when one is
// configured and everything else to the first group.
func demoRoute(cfg config.Config) func(codec.Frame) string {
	first := cfg.Groups[0].Name
	slow := ""
	for _, g := range cfg.Groups {
		if g.Name == "slow" {
			slow = g.Name
		}
	}
	return func(f codec.Frame) string {
		if cmd := f.Command(); slow != "" && (cmd == cmdSleep || cmd == "slow."+cmdSleep) {
			return slow
		}
		return first
	}
}
