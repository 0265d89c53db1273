// Command storagectl runs storage operations against the provider selected
// from the environment (STORAGE_PROVIDER and the provider-specific variables).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFiles  []string
	logFormat string
	verbose   bool
	timeout   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "storagectl",
		Short: "Inspect and manage objects in the configured storage provider",
		Long: `storagectl performs storage operations against the provider named by
STORAGE_PROVIDER: local, s3, minio or backblaze-b2. Unknown or empty values
fall back to local storage.

Provider settings are read from the environment and optional .env files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "Load environment from these files")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVarP(&g.timeout, "timeout", "t", time.Minute, "Timeout for the operation")

	root.AddCommand(
		newUploadCmd(g),
		newDownloadCmd(g),
		newDeleteCmd(g),
		newExistsCmd(g),
		newURLCmd(g),
		newPresignCmd(g),
		newMetaCmd(g),
		newCopyCmd(g),
		newKeyCmd(),
	)

	return root
}

// open loads configuration and builds the store for one command run.
// The returned cancel func must be called when the command finishes.
func (g *globalFlags) open(cmd *cobra.Command) (storage.Storage, context.Context, context.CancelFunc, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), g.logFormat, g.verbose)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := storage.LoadConfig(g.envFiles...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)

	s, err := storage.New(ctx, cfg, storage.WithLogger(logger))
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}

	return s, ctx, cancel, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
