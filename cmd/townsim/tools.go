package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/talgya/townsfolk/internal/config"
)

var schemaOut string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if schemaOut != "" {
			if err := config.WriteSchema(schemaOut); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			return nil
		}
		data, err := json.MarshalIndent(config.Schema(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <admin-key>",
	Short: "Print the bcrypt hash to configure as api.adminKeyHash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "Write the schema to this path instead of stdout")
}
