package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/danmuck/boxrelay/internal/logging"
	"github.com/spf13/cobra"
)

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	logging.ConfigureRuntime()

	var configPath string
	root := &cobra.Command{
		Use:   "boxrelay",
		Short: "Binary TCP request server with a supervised worker pool",
		Long: `boxrelay accepts framed binary requests over TCP, queues each frame for a
pool of worker processes, and relays the workers' responses back to the
originating connection.`,
		Version:       fmt.Sprintf("%s %s/%s", version(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to boxrelay.toml")

	root.AddCommand(
		serveCmd(&configPath),
		pingCmd(),
		configCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "boxrelay: %v\n", err)
		os.Exit(1)
	}
}
