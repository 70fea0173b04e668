package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// newUserCmd is a placeholder for user/API-key administration. Authentication
// and authorization are external collaborators of the storage engine, not
// something this repository implements; the subcommand exists so the CLI's
// shape matches a real deployment's admin surface, but every action defers
// to whatever identity provider fronts the cluster.
func newUserCmd() *cobra.Command {
	notImplemented := func(cmd *cobra.Command, args []string) error {
		return errors.New("user administration is not implemented by the core engine; it belongs to the identity provider fronting this cluster")
	}
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User and API-key administration (not implemented)",
	}
	cmd.AddCommand(&cobra.Command{Use: "create", RunE: notImplemented})
	cmd.AddCommand(&cobra.Command{Use: "list", RunE: notImplemented})
	cmd.AddCommand(&cobra.Command{Use: "revoke", RunE: notImplemented})
	return cmd
}
