package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/cache"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/config"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/server"
)

var (
	giftExpires string
	giftNote    string
	giftRevoke  bool
)

var giftCodeCmd = &cobra.Command{
	Use:   "giftcode",
	Short: "Manage gift codes",
}

var giftCodeHashCmd = &cobra.Command{
	Use:   "hash <code>",
	Short: "Print the stored hash of a gift code",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), entitlements.HashGiftCode(args[0]))
	},
}

var giftCodeAddCmd = &cobra.Command{
	Use:   "add <code>",
	Short: "Store a gift code in the configured backend",
	Long: `Store the hash of a gift code so it can be redeemed. The plaintext code is
never written. Use --expires for time-boxed codes and --revoke to disable one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if entitlements.NormalizeGiftCode(args[0]) == "" {
			return fmt.Errorf("gift code is empty")
		}
		code := entitlements.GiftCode{
			Hash:    entitlements.HashGiftCode(args[0]),
			Revoked: giftRevoke,
			Note:    giftNote,
		}
		if giftExpires != "" {
			expires, err := parseExpiry(giftExpires, time.Now())
			if err != nil {
				return err
			}
			code.ExpiresAt = &expires
		}

		cfg, err := config.LoadStore()
		if err != nil {
			return err
		}
		st, _, err := server.OpenBackends(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		if err := cache.New(st).AddGiftCode(cmd.Context(), code); err != nil {
			return fmt.Errorf("store gift code: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored gift code %s\n", code.Hash)
		return nil
	},
}

// parseExpiry accepts an RFC 3339 timestamp, a date, or a duration from now.
func parseExpiry(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid --expires %q: want RFC 3339 time, YYYY-MM-DD or a positive duration", raw)
}

func init() {
	giftCodeAddCmd.Flags().StringVar(&giftExpires, "expires", "", "expiry (RFC 3339, YYYY-MM-DD or duration such as 720h)")
	giftCodeAddCmd.Flags().StringVar(&giftNote, "note", "", "free-form note stored with the code")
	giftCodeAddCmd.Flags().BoolVar(&giftRevoke, "revoke", false, "store the code as revoked")

	giftCodeCmd.AddCommand(giftCodeHashCmd)
	giftCodeCmd.AddCommand(giftCodeAddCmd)
}
