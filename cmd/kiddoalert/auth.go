package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the session",
	Long: `Session commands. Device login needs no account; email login links
several devices to the same guardian.

Examples:
  kiddoalert auth device --role guardian
  kiddoalert auth login carla@example.com --password secret
  kiddoalert auth status
  kiddoalert auth profile --name Carla
  kiddoalert auth logout`,
}

var authDeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Sign in with this device's identifier",
	RunE:  runAuthDevice,
}

var authRegisterCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRegister,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in with email and password",
	Long: `Sign in with email and password. The password is read from --password
or from KIDDOALERT_PASSWORD.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and keep cached data",
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	RunE:  runAuthStatus,
}

var authProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the signed-in profile",
	RunE:  runAuthProfile,
}

var authLimitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show plan limits and current usage",
	RunE:  runAuthLimits,
}

func init() {
	authDeviceCmd.Flags().String("role", string(kiddoalert.RoleGuardian), "role for this device (guardian, child)")

	authRegisterCmd.Flags().String("name", "", "display name")
	authRegisterCmd.Flags().String("password", "", "account password")

	authLoginCmd.Flags().String("password", "", "account password")

	authProfileCmd.Flags().String("name", "", "new display name")
	authProfileCmd.Flags().String("role", "", "new role (guardian, child)")

	authCmd.AddCommand(authDeviceCmd)
	authCmd.AddCommand(authRegisterCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authProfileCmd)
	authCmd.AddCommand(authLimitsCmd)

	rootCmd.AddCommand(authCmd)
}

func passwordFlag(cmd *cobra.Command) string {
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		return pw
	}
	return os.Getenv("KIDDOALERT_PASSWORD")
}

func runAuthDevice(cmd *cobra.Command, args []string) error {
	roleFlag, _ := cmd.Flags().GetString("role")
	role, err := kiddoalert.ParseRole(roleFlag)
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		profile, err := a.r.Auth().AuthenticateDevice(ctx, role)
		if err != nil {
			return err
		}
		if err := a.r.SyncFromRemote(ctx); err != nil {
			a.logger.Warn("sync after sign in failed", slog.String("error", err.Error()))
		}
		return printSignedIn(cmd, a, profile)
	})
}

func runAuthRegister(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		profile, err := a.r.Auth().Register(ctx, args[0], passwordFlag(cmd), name)
		if err != nil {
			return err
		}
		return printSignedIn(cmd, a, profile)
	})
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		profile, err := a.r.Auth().Login(ctx, args[0], passwordFlag(cmd))
		if err != nil {
			return err
		}
		if err := a.r.SyncFromRemote(ctx); err != nil {
			a.logger.Warn("sync after sign in failed", slog.String("error", err.Error()))
		}
		return printSignedIn(cmd, a, profile)
	})
}

func printSignedIn(cmd *cobra.Command, a *app, profile *kiddoalert.Profile) error {
	out := cmd.OutOrStdout()
	if structured() {
		return printStructured(out, profile)
	}
	fmt.Fprintf(out, "%s Signed in as %s\n", colorGreen("✓"), profile.Role)
	fmt.Fprintf(out, "  User:  %s\n", profile.UserID)
	fmt.Fprintf(out, "  Plan:  %s\n", orDash(profile.Plan))
	if a.r.Auth().NeedsProfileSetup() {
		fmt.Fprintf(out, "\n%s No display name yet. Set one with: kiddoalert auth profile --name <name>\n", colorYellow("ℹ"))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.r.Logout(ctx)
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{"status": "signed_out"})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed out. Cached data was kept.\n", colorGreen("✓"))
		return nil
	})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		state := a.r.Session()
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, map[string]interface{}{
				"status":  state.Status.String(),
				"role":    a.r.Role(),
				"profile": state.Profile,
				"polling": a.r.Polling(),
			})
		}
		fmt.Fprintf(out, "Status:   %s\n", state.Status)
		fmt.Fprintf(out, "Role:     %s\n", a.r.Role())
		if state.Authenticated() {
			fmt.Fprintf(out, "User:     %s\n", state.Profile.UserID)
			fmt.Fprintf(out, "Name:     %s\n", orDash(state.Profile.Name))
			fmt.Fprintf(out, "Plan:     %s\n", orDash(state.Profile.Plan))
		}
		if err := a.r.LastError(); err != nil {
			fmt.Fprintf(out, "\n%s Last sync error: %v\n", colorYellow("⚠"), err)
		}
		return nil
	})
}

func runAuthProfile(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	roleFlag, _ := cmd.Flags().GetString("role")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		state := a.r.Session()
		if !state.Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		profile := state.Profile
		if name != "" || roleFlag != "" {
			var role *kiddoalert.Role
			if roleFlag != "" {
				parsed, err := kiddoalert.ParseRole(roleFlag)
				if err != nil {
					return err
				}
				role = &parsed
			}
			if name == "" {
				name = profile.Name
			}
			updated, err := a.r.Auth().UpdateProfile(ctx, name, role)
			if err != nil {
				return err
			}
			profile = updated
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, profile)
		}
		fmt.Fprintf(out, "User:   %s\n", profile.UserID)
		fmt.Fprintf(out, "Name:   %s\n", orDash(profile.Name))
		fmt.Fprintf(out, "Email:  %s\n", orDash(profile.Email))
		fmt.Fprintf(out, "Role:   %s\n", profile.Role)
		fmt.Fprintf(out, "Plan:   %s\n", orDash(profile.Plan))
		return nil
	})
}

func runAuthLimits(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		limits, err := a.r.Auth().RefreshLimits(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, limits)
		}
		fmt.Fprintf(out, "Plan: %s\n\n", orDash(limits.Plan))
		w := newTable(out)
		printTableHeader(w, "RESOURCE", "USED", "MAX", "CAN ADD")
		auth := a.r.Auth()
		fmt.Fprintf(w, "children\t%d\t%d\t%t\n", limits.Current.Children, limits.Limits.MaxChildren, auth.CanAddChild())
		fmt.Fprintf(w, "alerts\t%d\t%d\t%t\n", limits.Current.Alerts, limits.Limits.MaxAlerts, auth.CanAddAlert())
		fmt.Fprintf(w, "guardians\t%d\t%d\t%t\n", limits.Current.Guardians, limits.Limits.MaxGuardians, auth.CanAddGuardian())
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nHistory is kept for %d days.\n", limits.Limits.HistoryDays)
		return nil
	})
}
