package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Manage in-flight rolling updates",
}

var updateStartCmd = &cobra.Command{
	Use:   "start <role/environment/name> <new-task-config.yaml>",
	Short: "Register a rolling update for the shards named by --shard",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		shardsFlag, _ := cmd.Flags().GetIntSlice("shard")

		key, err := parseJobKey(args[0])
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read task configuration: %w", err)
		}
		var newCfg types.TaskConfig
		if err := yaml.Unmarshal(raw, &newCfg); err != nil {
			return fmt.Errorf("failed to parse task configuration: %w", err)
		}

		c, err := newComponents(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		shards := map[int]types.ShardConfigPair{}
		for _, id := range shardsFlag {
			cfg := newCfg
			cfg.ShardID = id
			shards[id] = types.ShardConfigPair{NewConfig: &cfg}
		}

		token, err := c.updateMgr.RegisterUpdate(key, shards)
		if err != nil {
			return fmt.Errorf("failed to register update: %w", err)
		}
		fmt.Printf("registered update for %s, token=%s\n", key.ToPath(), token)
		return nil
	},
}

var updateRollCmd = &cobra.Command{
	Use:   "roll <role/environment/name> <token>",
	Short: "Advance a rolling update one batch of shards forward",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		shardsFlag, _ := cmd.Flags().GetIntSlice("shard")

		key, err := parseJobKey(args[0])
		if err != nil {
			return err
		}
		c, err := newComponents(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		results, err := c.updateMgr.ModifyShards(key, shardsFlag, args[1], true)
		if err != nil {
			return fmt.Errorf("failed to modify shards: %w", err)
		}
		for shard, result := range results {
			fmt.Printf("shard %d: %s\n", shard, result)
		}
		return nil
	},
}

var updateFinishCmd = &cobra.Command{
	Use:   "finish <role/environment/name> <token>",
	Short: "Finish an in-flight rolling update",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		resultFlag, _ := cmd.Flags().GetString("result")

		key, err := parseJobKey(args[0])
		if err != nil {
			return err
		}
		result := types.UpdateResult(resultFlag)
		switch result {
		case types.UpdateSuccess, types.UpdateFailed, types.UpdateRolledBack:
		default:
			return fmt.Errorf("result must be one of SUCCESS, FAILED, ROLLED_BACK, got %q", resultFlag)
		}

		c, err := newComponents(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}

		if err := c.updateMgr.FinishUpdate(key, args[1], result, true); err != nil {
			return fmt.Errorf("failed to finish update: %w", err)
		}
		fmt.Printf("finished update for %s with result %s\n", key.ToPath(), result)
		return nil
	},
}

func parseJobKey(s string) (types.JobKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return types.JobKey{}, fmt.Errorf("job key must be role/environment/name, got %q", s)
	}
	return types.JobKey{Role: parts[0], Environment: parts[1], Name: parts[2]}, nil
}

func init() {
	updateStartCmd.Flags().IntSlice("shard", nil, "Shard ids to include in the update")
	updateRollCmd.Flags().IntSlice("shard", nil, "Shard ids to roll forward in this batch")
	updateFinishCmd.Flags().String("result", string(types.UpdateSuccess), "Terminal result to publish (SUCCESS, FAILED, ROLLED_BACK)")
	updateCmd.AddCommand(updateStartCmd, updateRollCmd, updateFinishCmd)
	rootCmd.AddCommand(updateCmd)
}
