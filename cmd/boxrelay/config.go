package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/boxrelay/internal/config"
	"github.com/spf13/cobra"
)

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Render or check boxrelay configuration",
	}

	var force bool
	template := &cobra.Command{
		Use:   "template [path]",
		Short: "Print the default configuration, or write it to path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				body, err := config.Template()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	template.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return errors.New("no config path given")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			workers := 0
			for _, g := range cfg.Groups {
				workers += g.Workers
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: listen=%s groups=%d workers=%d\n",
				path, cfg.Server.ListenAddr, len(cfg.Groups), workers)
			return nil
		},
	}

	cmd.AddCommand(template, validate)
	return cmd
}
