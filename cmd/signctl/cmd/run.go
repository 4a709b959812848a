package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/lyzr/signer/cmd/sign-node/fetch"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/cmd/sign-node/reporter"
	"github.com/lyzr/signer/cmd/sign-node/signer"
	"github.com/lyzr/signer/cmd/sign-node/storage"
	"github.com/lyzr/signer/common/clients"
	"github.com/lyzr/signer/common/models"
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		outputDir  string
		workingDir string
	)

	cmd := &cobra.Command{
		Use:   "run TASK_FILE",
		Short: "Execute a sign task locally and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			if workingDir != "" {
				cfg.Signer.WorkingDir = workingDir
			}
			log := root.logger(cmd)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read task: %w", err)
			}
			task, err := models.DecodeTask(data)
			if err != nil {
				return err
			}

			keys, err := loadKeyRing(cfg)
			if err != nil {
				return err
			}
			sign, err := signer.New(cfg, keys, log)
			if err != nil {
				return err
			}

			var store pipeline.Storage
			if outputDir != "" {
				store = storage.NewDirStorage(outputDir)
			} else {
				s3Client, err := storage.NewS3Client(cmd.Context(), cfg.Storage)
				if err != nil {
					return err
				}
				store = storage.NewS3Uploader(s3Client, cfg.Storage.Bucket, cfg.Storage.Prefix, log)
			}

			httpClient := clients.NewHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}, log, clients.Credentials{
				Username: cfg.Download.Username,
				Password: cfg.Download.Password,
				Token:    cfg.Download.Token,
			})

			settings := pipeline.SettingsFromConfig(cfg)
			// Local runs never consult a notary ledger
			settings.NotaryEnabled = false

			orchestrator := pipeline.NewOrchestrator(&pipeline.OrchestratorOpts{
				KeyRing:    keys,
				Downloader: fetch.NewHTTPDownloader(httpClient, log).WithPolicy(fetch.NewURLPolicy(cfg.Download.AllowedHosts)),
				Signer:     sign,
				Storage:    store,
				Reporter:   reporter.NewWriterReporter(cmd.OutOrStdout()),
				Settings:   settings,
				Logger:     log,
			})

			payload := orchestrator.Run(cmd.Context(), task)
			if !payload.Success {
				return fmt.Errorf("sign task %s failed", task.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "copy signed packages here instead of uploading to S3")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "staging directory (defaults to WORKING_DIR)")
	return cmd
}
