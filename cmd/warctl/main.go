// Command warctl drives a war room session from the terminal: lobby setup,
// phase commits, advancing and income.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/war-room/internal/client"
	"github.com/talgya/war-room/internal/config"
)

var (
	flagAPIURL  string
	flagPlayer  string
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "warctl",
	Short:         "operate war room sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	var env config.Client
	if err := config.ParseEnv(&env); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api", env.APIURL, "war room API base URL")
	rootCmd.PersistentFlags().StringVar(&flagPlayer, "player", env.PlayerID, "player id sent as "+client.PlayerHeader)
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		statusCmd,
		waitCmd,
		scenariosCmd,
		createCmd,
		joinCmd,
		assignCmd,
		nationCmd,
		maxPlayersCmd,
		startCmd,
		finishCmd,
		lobbyCmd,
		phaseCmd,
		commitCmd,
		uncommitCmd,
		advanceCmd,
		incomeCmd,
		logCmd,
	)
}

func newClient() *client.Client {
	c := client.New(flagAPIURL, flagPlayer)
	c.HTTPClient.Timeout = flagTimeout
	return c
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
