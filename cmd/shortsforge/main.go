// shortsforge turns approved content ideas into published short-form
// vertical videos: ideation, scripting, narration, stock footage,
// assembly, captions, metadata, upload.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shortsforge/shortsforge/pkg/config"
	"github.com/shortsforge/shortsforge/pkg/version"
)

// Exit codes: 0 success, 2 configuration error, 3 runtime failure,
// 130 interrupted by signal.
const (
	exitOK        = 0
	exitConfig    = 2
	exitRuntime   = 3
	exitInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFile string
	var envFile string

	root := &cobra.Command{
		Use:           "shortsforge",
		Short:         "Autonomous short-form video production pipeline",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "forge.yaml", "config file path")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file path")

	loadConfig := func() (*config.Config, error) {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
		return config.Load(configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	root.AddCommand(
		newRunOnceCmd(ctx, loadConfig, &code),
		newRunLoopCmd(ctx, loadConfig, &code),
		newResetCmd(ctx, loadConfig, &code),
		newStatusCmd(ctx, loadConfig, &code),
		newGCCmd(ctx, loadConfig, &code),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitOK {
			code = exitRuntime
		}
	}
	if ctx.Err() != nil && code == exitOK {
		code = exitInterrupt
	}
	return code
}
