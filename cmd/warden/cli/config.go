package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		value := args[1]

		s, err := getStore()
		if err != nil {
			fmt.Printf("Failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		if err := s.SetConfig(key, value); err != nil {
			fmt.Printf("Failed to set config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved: %s\n", key)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]

		s, err := getStore()
		if err != nil {
			fmt.Printf("Failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer s.Close()

		val, err := s.GetConfig(key)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if val == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(val)
		}
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}
