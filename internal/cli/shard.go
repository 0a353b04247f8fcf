package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/pressfleet/pressfleet/pkg/api"
)

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Manage shards",
}

var shardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shards with utilization and health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodGet,
			Path:   "shards",
		})
		if err != nil {
			return err
		}
		var list api.ShardList
		if err := json.Unmarshal(rsp, &list); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(list)
			return nil
		}
		fmt.Printf("%-20s %-12s %-12s %-10s %s\n", "SHARD", "REGION", "HEALTH", "TENANTS", "UTILIZATION")
		for _, s := range list.Shards {
			fmt.Printf("%-20s %-12s %-12s %d/%-8d %.1f%%\n", s.ShardID, s.Region, s.Health, s.TenantCount, s.Capacity, s.UtilizationPercent)
		}
		return nil
	},
}

var shardGetCmd = &cobra.Command{
	Use:   "get <shard-id>",
	Short: "Show a shard's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodGet,
			Path:   "shards/" + args[0],
		})
		if err != nil {
			return err
		}
		var shard api.Shard
		if err := json.Unmarshal(rsp, &shard); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(shard)
			return nil
		}
		fmt.Printf("Shard: %s\n", shard.ShardID)
		fmt.Printf("Project: %s\n", shard.ProjectRef)
		fmt.Printf("Region: %s\n", shard.Region)
		fmt.Printf("Health: %s\n", shard.Health)
		fmt.Printf("Tenants: %d/%d (%.1f%%)\n", shard.TenantCount, shard.Capacity, shard.UtilizationPercent)
		if shard.LastHealthCheckAt != nil {
			fmt.Printf("Last Probe: %s\n", shard.LastHealthCheckAt.Local().Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var (
	shardRegion   string
	shardCapacity int
	shardProject  string
)

var shardRegisterCmd = &cobra.Command{
	Use:   "register <shard-id>",
	Short: "Register an externally provisioned shard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.ShardCreateRequest{
			ShardID:    args[0],
			Region:     shardRegion,
			Capacity:   shardCapacity,
			ProjectRef: shardProject,
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodPost,
			Path:   "shards",
			Body:   body,
		})
		if err != nil {
			return err
		}
		var shard api.Shard
		if err := json.Unmarshal(rsp, &shard); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(shard)
			return nil
		}
		fmt.Printf("Shard %s registered (capacity %d, health %s)\n", shard.ShardID, shard.Capacity, shard.Health)
		return nil
	},
}

var shardExpandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Request creation of a new shard",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodPost,
			Path:   "shards/expand",
			Body:   []byte("{}"),
		})
		if err != nil {
			return err
		}
		var status api.ExpansionStatus
		if err := json.Unmarshal(rsp, &status); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(status)
			return nil
		}
		fmt.Printf("%s; watch 'fleetctl shard list' for the new shard\n", status.Status)
		return nil
	},
}

func init() {
	shardRegisterCmd.Flags().StringVar(&shardRegion, "region", "", "Shard region")
	shardRegisterCmd.Flags().IntVar(&shardCapacity, "capacity", 50, "Tenant capacity")
	shardRegisterCmd.Flags().StringVar(&shardProject, "project", "", "Infrastructure project reference")
	shardRegisterCmd.MarkFlagRequired("region")
	shardCmd.AddCommand(shardListCmd, shardGetCmd, shardRegisterCmd, shardExpandCmd)
	rootCmd.AddCommand(shardCmd)
}
