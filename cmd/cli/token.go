package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"neuroconnect/internal/auth"
	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
)

var (
	flagUserID   uint
	flagRole     string
	flagTTLMin   int
	flagNoExpiry bool
)

// tokenCmd 签发测试/运维用的参与方凭证
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a party credential (HS256 JWT) for API and websocket authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is empty; set it in config")
		}
		switch flagRole {
		case models.RoleStudent, models.RoleDoctor, models.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", flagRole)
		}

		ttl := time.Duration(flagTTLMin) * time.Minute
		if flagNoExpiry {
			ttl = 0
		}
		tok, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, ttl).Issue(flagUserID, flagRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().UintVar(&flagUserID, "user-id", 1, "party id to embed as the token subject")
	tokenCmd.Flags().StringVar(&flagRole, "role", models.RoleStudent, "role claim (student, doctor, admin); the server trusts the stored role")
	tokenCmd.Flags().IntVar(&flagTTLMin, "ttl", 60, "token time-to-live in minutes")
	tokenCmd.Flags().BoolVar(&flagNoExpiry, "no-exp", false, "do not include exp claim")
}
