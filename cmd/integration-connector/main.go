package main

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {

	var apiListenAddr string
	var compositeListenAddr string
	var schedulerListenAddr string

	// rootCmd represents the base command when called without any subcommands
	var rootCmd = &cobra.Command{
		Use: "integration-connector",
	}

	var apiServerCmd = &cobra.Command{
		Use:   "api_server",
		Short: "Connection management API server",
		Run: func(cmd *cobra.Command, args []string) {
			startApiServer(apiListenAddr)
		},
	}

	var syncSchedulerCmd = &cobra.Command{
		Use:   "sync_scheduler",
		Short: "Background sync scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			startSyncScheduler(schedulerListenAddr)
		},
	}

	var compositeServerCmd = &cobra.Command{
		Use:   "composite_server",
		Short: "API server and sync scheduler in a single process",
		Run: func(cmd *cobra.Command, args []string) {
			startCompositeServer(compositeListenAddr)
		},
	}

	rootCmd.AddCommand(apiServerCmd)
	apiServerCmd.Flags().StringVarP(&apiListenAddr, "listen-addr", "l", ":8000", "Hostname:port")

	rootCmd.AddCommand(syncSchedulerCmd)
	syncSchedulerCmd.Flags().StringVarP(&schedulerListenAddr, "listen-addr", "l", ":8001", "Hostname:port")

	rootCmd.AddCommand(compositeServerCmd)
	compositeServerCmd.Flags().StringVarP(&compositeListenAddr, "listen-addr", "l", ":8000", "Hostname:port")

	return rootCmd
}

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
