package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/pressfleet/pressfleet/pkg/api"
)

// statusCmd reports fleet-wide health from the /health endpoint.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet health",
	Long: `Show fleet health: shard counts by health, tenant count and overall
utilization.

Examples:
  fleetctl status
  fleetctl status -j`,
	RunE: getStatus,
}

func getStatus(cmd *cobra.Command, args []string) error {
	client := NewHTTPClient(getServerURL())
	rsp, _, err := client.DoRequest(RequestOptions{
		Method: http.MethodGet,
		Path:   "health",
	})
	if err != nil {
		return err
	}
	var healthRsp api.FleetHealth
	if err := json.Unmarshal(rsp, &healthRsp); err != nil {
		return fmt.Errorf("failed to parse response: %v", err)
	}
	if jsonOutput {
		printJSON(healthRsp)
		return nil
	}
	printStatusPretty(healthRsp)
	return nil
}

func printStatusPretty(h api.FleetHealth) {
	fmt.Printf("Status: %s\n", h.Status)
	fmt.Printf("Shards: %d (healthy %d, degraded %d, unreachable %d)\n",
		h.TotalShards, h.HealthyShards, h.DegradedShards, h.UnreachableShards)
	fmt.Printf("Tenants: %d / %d capacity\n", h.TotalTenants, h.TotalCapacity)
	fmt.Printf("Utilization: %.1f%%\n", h.UtilizationPercent)
	fmt.Printf("As Of: %s\n", h.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
