package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/signer/common/config"
	"github.com/lyzr/signer/common/keyring"
	"github.com/lyzr/signer/common/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	logLevel    string
	logFormat   string
	keyRingPath string
}

// Execute runs the CLI until completion or an interrupt
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the signctl command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "signctl",
		Short:        "Operate the package signing pipeline",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().StringVar(&opts.keyRingPath, "keyring", "", "key ring file (defaults to KEYRING_PATH)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newSubmitCmd(opts),
		newAuditCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) logger(cmd *cobra.Command) *logger.Logger {
	return logger.NewWithWriter(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
}

func (o *rootOptions) config() (*config.Config, error) {
	cfg, err := config.Load("signctl")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.keyRingPath != "" {
		cfg.Signer.KeyRingPath = o.keyRingPath
	}
	return cfg, nil
}

func loadKeyRing(cfg *config.Config) (*keyring.KeyRing, error) {
	return keyring.Load(cfg.Signer.KeyRingPath)
}
