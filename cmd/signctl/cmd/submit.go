package cmd

import (
	"fmt"
	"os"

	"github.com/lyzr/signer/cmd/sign-node/consumer"
	"github.com/lyzr/signer/common/models"
	"github.com/lyzr/signer/common/redis"
	"github.com/spf13/cobra"
)

func newSubmitCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit TASK_FILE",
		Short: "Validate a sign task and queue it for the sign nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read task: %w", err)
			}
			task, err := models.DecodeTask(data)
			if err != nil {
				return err
			}

			cfg, err := root.config()
			if err != nil {
				return err
			}
			log := root.logger(cmd)

			client, err := redis.Dial(cmd.Context(), cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, log)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.AddToStream(cmd.Context(), cfg.Redis.TaskStream, map[string]interface{}{
				consumer.TaskField: string(data),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued task %s (%d packages) as %s\n", task.ID, len(task.Packages.Descriptors), id)
			return nil
		},
	}
}
