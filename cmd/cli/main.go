package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	subscribeKey string
	authKey      string
	origin       string
	output       string = "text" // "text" or "json"
)

var rootCmd = &cobra.Command{
	Use:   "relaydeck",
	Short: "RelayDeck CLI - Inspect and manage stored channel history",
	Long: `RelayDeck CLI provides command-line access to a channel's message
persistence: fetch historical messages past the per-call cap, count stored
messages, delete history, and convert timetokens.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if subscribeKey == "" {
			subscribeKey = os.Getenv("RELAY_SUBSCRIBE_KEY")
		}
		if authKey == "" {
			authKey = os.Getenv("RELAY_AUTH_KEY")
		}
		if origin == "" {
			origin = os.Getenv("RELAY_ORIGIN")
		}
	},
}

func init() {
	// A .env next to the binary is a convenience for local use
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&subscribeKey, "subscribe-key", "", "Subscribe key (defaults to RELAY_SUBSCRIBE_KEY env var)")
	rootCmd.PersistentFlags().StringVar(&authKey, "auth-key", "", "Auth key (defaults to RELAY_AUTH_KEY env var)")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "Persistence API origin (defaults to RELAY_ORIGIN env var)")
	rootCmd.PersistentFlags().StringVar(&output, "output", output, "Output format: text or json")

	// Add command groups
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(timetokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
