package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/routesim/routesim/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd issues a bearer token for the serve write routes
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the command API",
	Run: func(cmd *cobra.Command, args []string) {
		v, err := auth.NewVerifier(jwtSecret, auth.CommandScope)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		tok, err := v.IssueToken(tokenSubject, tokenTTL)
		if err != nil {
			logrus.Fatalf("signing token: %v", err)
		}
		fmt.Println(tok)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&jwtSecret, "jwt-secret", os.Getenv("ROUTESIM_JWT_SECRET"), "HMAC secret (env ROUTESIM_JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
