// ABOUTME: Agent management subcommands operating directly on the relay database
// ABOUTME: Registers, lists and removes the agents the forwarder routes to

package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/chatwoot-relay/internal/store"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage chat agents",
	}
	cmd.AddCommand(agentsRegisterCmd())
	cmd.AddCommand(agentsListCmd())
	cmd.AddCommand(agentsRemoveCmd())
	return cmd
}

func openStore() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func agentsRegisterCmd() *cobra.Command {
	var agent store.Agent
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent",
		Long: `Register an agent. With --inbox the agent's messages go through the
Chatwoot public inbox; without it they are posted to --webhook-url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent.Name = strings.TrimSpace(agent.Name)
			if agent.Name == "" {
				return fmt.Errorf("--name is required")
			}
			if agent.ChatwootInboxIdentifier == "" && agent.WebhookURL == "" {
				return fmt.Errorf("one of --inbox or --webhook-url is required")
			}
			if agent.ID == "" {
				agent.ID = uuid.New().String()
			}
			agent.CreatedAt = time.Now().UTC()

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.CreateAgent(cmd.Context(), &agent); err != nil {
				return fmt.Errorf("registering agent: %w", err)
			}

			color.New(color.FgGreen).Printf("  ✓ Registered agent %s (%s)\n", agent.Name, agent.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&agent.ID, "id", "", "agent id (default: random UUID)")
	f.StringVar(&agent.Name, "name", "", "display name")
	f.StringVar(&agent.WebhookURL, "webhook-url", "", "agent webhook for passthrough delivery")
	f.StringVar(&agent.Path, "path", "", "widget path the agent is served under")
	f.StringVar(&agent.ChatwootInboxIdentifier, "inbox", "", "Chatwoot public inbox identifier")
	f.BoolVar(&agent.RequiresEmail, "requires-email", false, "reject sends without a user email")
	return cmd
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			agents, err := s.ListAgents(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing agents: %w", err)
			}
			if len(agents) == 0 {
				fmt.Println("No agents registered.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODE\tTARGET\tEMAIL")
			for _, a := range agents {
				mode, target := "webhook", a.WebhookURL
				if a.UsesChatwoot() {
					mode, target = "chatwoot", a.ChatwootInboxIdentifier
				}
				email := "optional"
				if a.RequiresEmail {
					email = "required"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, mode, target, email)
			}
			return w.Flush()
		},
	}
}

func agentsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.DeleteAgent(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("removing agent %s: %w", args[0], err)
			}
			color.New(color.FgGreen).Printf("  ✓ Removed agent %s\n", args[0])
			return nil
		},
	}
}
