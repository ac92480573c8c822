// Mayu is a Discord bot that welcomes new members of a guild with an embed
// posted to a configured channel.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mayu",
	Short: "Mayu welcomes new Discord guild members.",
	Long: `Mayu keeps a session open on the Discord gateway, watches for members
joining the configured guild and posts a welcome embed to the welcome channel.`,
	RunE:          runBot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
