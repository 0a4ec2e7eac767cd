package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"skyassist-backend/lib/serviceutil"
	"skyassist-backend/lib/telemetry"
	"skyassist-backend/services/skyward"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "skyward-cli",
	SilenceUsage:  true,
	Short:         "skyward-cli reads messages, grades and academic history from a Skyward portal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "The config file to read.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRuntime() *skyward.Runtime {
	cfg, err := skyward.LoadConfig(configPath)
	if err != nil {
		serviceutil.Fatal("failed to load config", err)
	}
	runtime, err := skyward.Open(cfg)
	if err != nil {
		serviceutil.Fatal("failed to open service", err)
	}
	return runtime
}

// unwrap returns the data of a successful result or its error as a go error.
func unwrap[T any](res skyward.Result[T]) (T, error) {
	if !res.Success {
		var zero T
		return zero, fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message)
	}
	return *res.Data, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJson(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
