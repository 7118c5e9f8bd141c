package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cl "marketsim/internal/cli"
	"marketsim/internal/config"
	"marketsim/internal/scenario"
)

const requestTimeout = 30 * time.Second

func main() {
	config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()

	root := &cobra.Command{
		Use:           "msim",
		Short:         "Turn-based bicycle market simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "API base URL for remote games")
	root.PersistentFlags().StringVar(&cfg.LocalDB, "db", cfg.LocalDB, "SQLite file for local games")

	root.AddCommand(
		newScenariosCmd(),
		newLocalCmd(&cfg),
		newRemoteCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func newScenariosCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List market scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := scenario.Default()
			if file != "" {
				var err error
				if catalog, err = scenario.Load(file); err != nil {
					return err
				}
			}
			renderScenarios(catalog.Scenarios())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML catalog to list instead of the built-in one")
	return cmd
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}

func saveMembership(local bool, m cl.Membership) error {
	sess, err := cl.LoadSession()
	if err != nil {
		return err
	}
	if local {
		sess.Local = &m
	} else {
		sess.Remote = &m
	}
	return cl.SaveSession(sess)
}
