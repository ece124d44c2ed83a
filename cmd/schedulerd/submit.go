package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var submitCmd = &cobra.Command{
	Use:   "submit <job.yaml>",
	Short: "Validate and admit a job configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read job configuration: %w", err)
		}
		var job types.JobConfiguration
		if err := yaml.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("failed to parse job configuration: %w", err)
		}

		c, err := newComponents(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		if err := c.validator.ValidateJobConfiguration(&job); err != nil {
			return fmt.Errorf("admission rejected job: %w", err)
		}

		if job.IsCron() {
			if err := c.store.Write(func(mut storage.Mutator) error {
				mut.SaveJob(types.ManagerIDCron, &job)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to register cron job: %w", err)
			}
			c.cronMgr.Register(&job)
			fmt.Printf("registered cron job %s (%s)\n", job.Key.ToPath(), job.CronSchedule)
			return nil
		}

		now := time.Now()
		if err := c.store.Write(func(mut storage.Mutator) error {
			mut.SaveJob(types.ManagerIDDefault, &job)
			for shard := 0; shard < job.ShardCount; shard++ {
				cfg := job.TaskConfig
				cfg.ShardID = shard
				mut.SaveTasks(&types.ScheduledTask{
					AssignedTask: types.AssignedTask{
						TaskID:     uuid.NewString(),
						TaskConfig: cfg,
					},
					Status: types.StatusPending,
					TaskEvents: []types.TaskEvent{{
						TimestampMillis: types.NowMillis(now),
						Status:          types.StatusPending,
						Message:         "submitted",
					}},
				})
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to admit job: %w", err)
		}
		fmt.Printf("admitted job %s (%d shards)\n", job.Key.ToPath(), job.ShardCount)
		return nil
	},
}
