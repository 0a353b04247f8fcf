package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/pressfleet/pressfleet/pkg/api"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantVars map[string]string

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant-id>",
	Short: "Provision a new tenant",
	Long: `Provision a new tenant. The server assigns the tenant to a shard and
provisions its infrastructure in the background. Poll with "fleetctl tenant
get" until the tenant is active.

Examples:
  fleetctl tenant create acme-blog
  fleetctl tenant create acme-blog --var plan=pro --var region=us-east1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.TenantCreateRequest{TenantID: args[0], Vars: tenantVars}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodPost,
			Path:   "tenants",
			Body:   body,
		})
		if err != nil {
			return err
		}
		var tenant api.TenantJob
		if err := json.Unmarshal(rsp, &tenant); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(tenant)
			return nil
		}
		fmt.Printf("Tenant %s accepted on shard %s (state: %s)\n", tenant.TenantID, tenant.ShardID, tenant.State)
		return nil
	},
}

var tenantGetCmd = &cobra.Command{
	Use:   "get <tenant-id>",
	Short: "Show a tenant's placement and state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodGet,
			Path:   "tenants/" + args[0],
		})
		if err != nil {
			return err
		}
		var tenant api.Tenant
		if err := json.Unmarshal(rsp, &tenant); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(tenant)
			return nil
		}
		printTenantPretty(tenant)
		return nil
	},
}

var tenantListShard string

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := RequestOptions{
			Method: http.MethodGet,
			Path:   "tenants",
		}
		if tenantListShard != "" {
			opts.QueryParams = map[string]string{"shard_id": tenantListShard}
		}
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(opts)
		if err != nil {
			return err
		}
		var list api.TenantList
		if err := json.Unmarshal(rsp, &list); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(list)
			return nil
		}
		fmt.Printf("%-24s %-20s %-16s %s\n", "TENANT", "SHARD", "STATE", "UPDATED")
		for _, t := range list.Tenants {
			fmt.Printf("%-24s %-20s %-16s %s\n", t.TenantID, t.ShardID, t.State, t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var tenantUpdateCmd = &cobra.Command{
	Use:   "update <tenant-id>",
	Short: "Re-apply a tenant's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.TenantCreateRequest{TenantID: args[0], Vars: tenantVars}
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodPut,
			Path:   "tenants/" + args[0],
			Body:   body,
		})
		if err != nil {
			return err
		}
		var tenant api.TenantJob
		if err := json.Unmarshal(rsp, &tenant); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(tenant)
			return nil
		}
		fmt.Printf("Update accepted for tenant %s (state: %s)\n", tenant.TenantID, tenant.State)
		return nil
	},
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <tenant-id>",
	Short: "Destroy a tenant's infrastructure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewHTTPClient(getServerURL())
		rsp, _, err := client.DoRequest(RequestOptions{
			Method: http.MethodDelete,
			Path:   "tenants/" + args[0],
		})
		if err != nil {
			return err
		}
		var tenant api.TenantJob
		if err := json.Unmarshal(rsp, &tenant); err != nil {
			return fmt.Errorf("failed to parse response: %v", err)
		}
		if jsonOutput {
			printJSON(tenant)
			return nil
		}
		fmt.Printf("Destroy accepted for tenant %s (state: %s)\n", tenant.TenantID, tenant.State)
		return nil
	},
}

func printTenantPretty(t api.Tenant) {
	fmt.Printf("Tenant: %s\n", t.TenantID)
	fmt.Printf("Shard: %s\n", t.ShardID)
	fmt.Printf("State: %s\n", t.State)
	fmt.Printf("Generation: %d\n", t.Generation)
	fmt.Printf("Created: %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Updated: %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05 MST"))
	if t.LastError != nil {
		fmt.Println()
		fmt.Printf("Last Error: %s\n", t.LastError.Message)
		fmt.Printf("Retryable: %v\n", t.LastError.Retryable)
	}
}

func init() {
	tenantCreateCmd.Flags().StringToStringVar(&tenantVars, "var", nil, "Provisioning variable (key=value, repeatable)")
	tenantUpdateCmd.Flags().StringToStringVar(&tenantVars, "var", nil, "Provisioning variable (key=value, repeatable)")
	tenantListCmd.Flags().StringVar(&tenantListShard, "shard", "", "Filter by shard id")
	tenantCmd.AddCommand(tenantCreateCmd, tenantGetCmd, tenantListCmd, tenantUpdateCmd, tenantDeleteCmd)
	rootCmd.AddCommand(tenantCmd)
}
