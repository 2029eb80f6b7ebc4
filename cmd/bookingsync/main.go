// Command bookingsync serves the payment webhooks and the booking confirmation
// endpoint, and offers admin commands against the configured store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "bookingsync",
		Short:         "Reconcile DJ booking payments and subscriptions from Stripe and PayPal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(serveCmd(&envFile))
	root.AddCommand(confirmCmd(&envFile))
	return root
}
