package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/pkg/activation"
)

var (
	clientServerURL string
	clientStatePath string
	clientTimeout   time.Duration
	checkInterval   time.Duration
	activateEmail   string
	activateGift    string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the client revalidation policy once against a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := newClientPolicy(activation.WithInterval(checkInterval))
		if err != nil {
			return err
		}
		outcome, err := policy.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (activated: %t)\n", outcome, outcome.StillActivated())
		return nil
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Obtain and store a credential by email or gift code",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(activateEmail)
		gift := strings.TrimSpace(activateGift)
		if (email == "") == (gift == "") {
			return fmt.Errorf("exactly one of --email or --gift-code is required")
		}
		policy, err := newClientPolicy()
		if err != nil {
			return err
		}

		var st activation.State
		if email != "" {
			st, err = policy.ActivateIdentifier(cmd.Context(), email)
		} else {
			st, err = policy.ActivateGiftCode(cmd.Context(), gift)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Activated %s (%s)\n", st.Identifier, st.Plan)
		return nil
	},
}

func newClientPolicy(opts ...activation.PolicyOption) (*activation.Policy, error) {
	if strings.TrimSpace(clientServerURL) == "" {
		return nil, fmt.Errorf("--server is required")
	}
	if strings.TrimSpace(clientStatePath) == "" {
		return nil, fmt.Errorf("--state is required")
	}
	opts = append(opts, activation.WithLogger(logging.New("activation")))
	return activation.NewPolicy(
		activation.NewFileStore(clientStatePath),
		activation.NewHTTPClient(clientServerURL, clientTimeout),
		opts...,
	), nil
}

func init() {
	for _, c := range []*cobra.Command{checkCmd, activateCmd} {
		c.Flags().StringVar(&clientServerURL, "server", "", "verification service base URL")
		c.Flags().StringVar(&clientStatePath, "state", "", "path of the local activation state file")
		c.Flags().DurationVar(&clientTimeout, "timeout", activation.DefaultTimeout, "request timeout")
	}
	checkCmd.Flags().DurationVar(&checkInterval, "interval", activation.DefaultInterval, "revalidation interval")
	activateCmd.Flags().StringVar(&activateEmail, "email", "", "purchaser email")
	activateCmd.Flags().StringVar(&activateGift, "gift-code", "", "gift code to redeem")
}
