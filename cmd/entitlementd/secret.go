package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/credential"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Activation secret helpers",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a new random ACTIVATION_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := credential.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretGenerateCmd)
}
