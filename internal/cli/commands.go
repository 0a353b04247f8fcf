// Package cli implements fleetctl, the operator command line for the fleet
// control plane.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - command line interface for the fleet control plane",
	Long: `fleetctl manages tenants and shards on a fleet control plane server.
It provisions and destroys tenant sites, inspects shard placement and
reports fleet health.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server URL (defaults to $FLEET_SERVER or http://localhost:8280)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func getServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("FLEET_SERVER"); env != "" {
		return env
	}
	return "http://localhost:8280"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fleetctl",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": "v0.1.0"})
			} else {
				cmd.Println("fleetctl v0.1.0")
			}
		},
	}
}

func printJSON(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}
