package cmd

import (
	"fmt"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/spf13/cobra"
)

func newAuditCmd(root *rootOptions) *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "audit --key KEYID RPM...",
		Short: "Check that RPM packages are signed with a key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			keys, err := loadKeyRing(cfg)
			if err != nil {
				return err
			}
			key, err := keys.Get(keyID)
			if err != nil {
				return err
			}

			auditor := pipeline.NewAuditor(pipeline.RPMSignatureReader{}, pipeline.SettingsFromConfig(cfg), root.logger(cmd))
			records := auditor.Check(key, args)

			failed := 0
			out := cmd.OutOrStdout()
			for _, rec := range records {
				if rec.Status == pipeline.SignatureOK {
					fmt.Fprintf(out, "ok    %s\n", rec.Path)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %s\n", rec.Message())
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d packages failed the signature check", failed, len(records))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key", "", "expected signing key id")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
