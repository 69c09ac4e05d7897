package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Show or switch between guardian and child mode",
	Long: `Role commands. When signed in the profile is updated remotely first and
the local mode only changes if that succeeds.

Examples:
  kiddoalert role
  kiddoalert role set child
  kiddoalert role toggle`,
	RunE: runRoleShow,
}

var roleSetCmd = &cobra.Command{
	Use:       "set <guardian|child>",
	Short:     "Switch to a role",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(kiddoalert.RoleGuardian), string(kiddoalert.RoleChild)},
	RunE:      runRoleSet,
}

var roleToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Flip between guardian and child",
	RunE:  runRoleToggle,
}

func init() {
	roleCmd.AddCommand(roleSetCmd)
	roleCmd.AddCommand(roleToggleCmd)
	rootCmd.AddCommand(roleCmd)
}

func printRole(cmd *cobra.Command, role kiddoalert.Role, changed bool) error {
	if structured() {
		return printStructured(cmd.OutOrStdout(), map[string]string{"role": string(role)})
	}
	if changed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Role: %s\n", colorGreen("✓"), role)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Role: %s\n", role)
	return nil
}

func runRoleShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		return printRole(cmd, a.r.Role(), false)
	})
}

func runRoleSet(cmd *cobra.Command, args []string) error {
	role, err := kiddoalert.ParseRole(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.r.SetRole(ctx, role); err != nil {
			return err
		}
		return printRole(cmd, a.r.Role(), true)
	})
}

func runRoleToggle(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		role, err := a.r.ToggleRole(ctx)
		if err != nil {
			return err
		}
		return printRole(cmd, role, true)
	})
}
