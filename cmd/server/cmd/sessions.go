package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/database"
	"github.com/iliyamo/techland/internal/repository"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Refresh session maintenance",
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired and revoked sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		n, err := repository.NewSessionRepo(db).PurgeExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
		log.Info("purged sessions", zap.Int64("count", n))
		return nil
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke-user [email]",
	Short: "Revoke every session of one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		u, err := repository.NewUserRepo(db).GetByEmail(cmd.Context(), repository.NormalizeEmail(args[0]))
		if err != nil {
			return fmt.Errorf("lookup %s: %w", args[0], err)
		}
		n, err := repository.NewSessionRepo(db).RevokeAll(cmd.Context(), u.ID)
		if err != nil {
			return fmt.Errorf("revoke failed: %w", err)
		}
		log.Info("revoked sessions", zap.Uint64("user_id", u.ID), zap.Int64("count", n))
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsPurgeCmd, sessionsRevokeCmd)
}
