package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manages the local response cache.",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Removes every cached entry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		_, err := unwrap(runtime.Service.ClearCache(cmd.Context()))
		return err
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Removes expired cached entries.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		removed, err := unwrap(runtime.Service.CleanupCache(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired entries\n", removed)
		return nil
	},
}
