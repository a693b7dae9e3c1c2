package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"teller/cmd/teller/chat"
	"teller/internal/config"
	"teller/internal/logging"
	"teller/internal/store"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "teller",
	Short: "teller - conversational banking assistant core",
	Long: `teller collects structured parameters for banking actions across
multi-turn conversations and executes each action exactly once, with a
complete audit trail.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var turnCmd = &cobra.Command{
	Use:   "turn [message]",
	Short: "Process a single conversational turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		userID, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")
		message := strings.Join(args, " ")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.seedUser(ctx, userID); err != nil {
			return err
		}

		reply, _ := a.processor.ProcessTurn(ctx, sessionID, userID, message)
		if asJSON {
			out, err := json.MarshalIndent(reply, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Println(reply.ReplyText)
		if len(reply.Suggestions) > 0 {
			fmt.Printf("  (try: %s)\n", strings.Join(reply.Suggestions, ", "))
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		records, err := a.store.QueryAudit(cmd.Context(), store.AuditFilter{
			UserID: userID,
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No audit records.")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%s  %-12s  %-14s  %s  %s\n",
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
				rec.Status, rec.Intent, rec.ID, rec.ErrorMessage)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", configPath)
		return nil
	},
}

func runChat() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userID := os.Getenv("TELLER_USER")
	if userID == "" {
		userID = "demo-user"
	}
	if err := a.seedUser(ctx, userID); err != nil {
		return err
	}

	a.processor.StartMaintenance(ctx, cfg.GetPruneInterval())

	return chat.Run(ctx, a.processor, userID)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "teller.yaml", "path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	turnCmd.Flags().String("session", "cli-session", "session id")
	turnCmd.Flags().String("user", "demo-user", "user id")
	turnCmd.Flags().Bool("json", false, "print the full structured reply")

	auditCmd.Flags().String("user", "", "filter by user id")
	auditCmd.Flags().Int("limit", 20, "maximum records to print")

	rootCmd.AddCommand(turnCmd, auditCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
