package commands

import (
	"github.com/spf13/cobra"
)

// flag names
const (
	flagServer  = "server"
	flagToken   = "token"
	flagLimit   = "limit"
	flagRole    = "role"
	flagTTL     = "ttl"
	flagSubject = "subject"
	flagShop    = "shop"
)

// environment variable names
const (
	envServer = "RECOVERY_SERVER"
	envToken  = "RECOVERY_TOKEN"
)

const defaultServer = "http://localhost:8080"

// NewRootCmd builds the recoveryctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recoveryctl",
		Short:         "Operator CLI for the checkout recovery caller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSweepCmd())
	root.AddCommand(newTokenCmd())
	return root
}
