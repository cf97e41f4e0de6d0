package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cc.Cfg)
	}

	cfg := cc.Cfg

	fmt.Printf("config_path:   %s\n", cc.CfgPath)
	fmt.Printf("base_url:      %s\n", cfg.BaseURL)
	fmt.Printf("username:      %s\n", cfg.Username)
	fmt.Printf("sync_dir:      %s\n", cfg.SyncDir)
	fmt.Printf("device_id:     %s\n", cfg.DeviceID)
	fmt.Printf("log_level:     %s\n", cfg.LogLevel)
	fmt.Printf("debounce:      %s\n", cfg.Debounce)
	fmt.Printf("delete_grace:  %s\n", cfg.DeleteGrace)
	fmt.Printf("snapshot_ttl:  %s\n", cfg.SnapshotTTL)
	fmt.Printf("max_retries:   %d\n", cfg.MaxRetries)
	fmt.Printf("paused:        %t\n", cfg.Paused)

	return nil
}
