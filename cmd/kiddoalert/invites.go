package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

// ============================================
// Invites
// ============================================

var invitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "Look up, accept and create invites",
	Long: `Invite commands. A child invite links the child's device; a guardian
invite lets a second guardian follow the same child.

Examples:
  kiddoalert invites show 8f3a...
  kiddoalert invites accept 8f3a...
  kiddoalert invites guardian 01HXYZ...`,
}

var invitesShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show who sent an invite and for which child",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvitesShow,
}

var invitesAcceptCmd = &cobra.Command{
	Use:   "accept <token>",
	Short: "Accept an invite with the current session",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvitesAccept,
}

var invitesGuardianCmd = &cobra.Command{
	Use:   "guardian <child-id>",
	Short: "Invite another guardian to follow a child",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvitesGuardian,
}

// ============================================
// Devices
// ============================================

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Register this device for push notifications",
}

var devicesRegisterCmd = &cobra.Command{
	Use:   "register <push-token>",
	Short: "Register a push token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPushToken(cmd, args[0], true)
	},
}

var devicesUnregisterCmd = &cobra.Command{
	Use:   "unregister <push-token>",
	Short: "Remove a push token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPushToken(cmd, args[0], false)
	},
}

// ============================================
// Subscriptions
// ============================================

var subscriptionsCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"subscriptions", "plan"},
	Short:   "Show or verify the premium subscription",
}

var subscriptionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the subscription state",
	RunE:  runSubscriptionsStatus,
}

var subscriptionsVerifyCmd = &cobra.Command{
	Use:   "verify <receipt>",
	Short: "Submit a store receipt",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionsVerify,
}

func init() {
	invitesCmd.AddCommand(invitesShowCmd)
	invitesCmd.AddCommand(invitesAcceptCmd)
	invitesCmd.AddCommand(invitesGuardianCmd)
	rootCmd.AddCommand(invitesCmd)

	for _, c := range []*cobra.Command{devicesRegisterCmd, devicesUnregisterCmd} {
		c.Flags().String("platform", kiddoalert.DefaultPushPlatform, "push platform (ios, android)")
	}
	devicesCmd.AddCommand(devicesRegisterCmd)
	devicesCmd.AddCommand(devicesUnregisterCmd)
	rootCmd.AddCommand(devicesCmd)

	subscriptionsCmd.AddCommand(subscriptionsStatusCmd)
	subscriptionsCmd.AddCommand(subscriptionsVerifyCmd)
	rootCmd.AddCommand(subscriptionsCmd)
}

func runInvitesShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		details, err := a.r.Client().Invites.Get(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, details)
		}
		fmt.Fprintf(out, "Type:     %s\n", details.Invite.Type)
		fmt.Fprintf(out, "Expires:  %s\n", details.Invite.ExpiresAt.Local().Format("2006-01-02 15:04"))
		if details.CreatedByName != nil {
			fmt.Fprintf(out, "From:     %s\n", *details.CreatedByName)
		}
		if details.ChildName != nil {
			fmt.Fprintf(out, "Child:    %s\n", *details.ChildName)
		}
		return nil
	})
}

func runInvitesAccept(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		if err := a.r.Client().Invites.Accept(ctx, args[0]); err != nil {
			return err
		}
		if err := a.r.SyncFromRemote(ctx); err != nil {
			a.logger.Warn("sync after invite failed", slog.String("error", err.Error()))
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]interface{}{
				"status":   "accepted",
				"children": a.r.Children(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Invite accepted\n", colorGreen("✓"))
		return nil
	})
}

func runInvitesGuardian(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		if !a.r.Auth().CanAddGuardian() {
			return kiddoalert.WrapOpError("invite guardian", args[0], kiddoalert.ErrLimitExceeded)
		}
		if _, err := a.r.Child(args[0]); err != nil {
			return err
		}
		invite, err := a.r.Client().Invites.CreateGuardianInvite(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, invite)
		}
		fmt.Fprintf(out, "%s Guardian invite created\n\n", colorGreen("✓"))
		fmt.Fprintf(out, "  Token:   %s\n", invite.Token)
		fmt.Fprintf(out, "  Expires: %s\n", invite.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	})
}

func sendPushToken(cmd *cobra.Command, token string, register bool) error {
	platform, _ := cmd.Flags().GetString("platform")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		devices := a.r.Client().Devices
		action := "registered"
		var err error
		if register {
			err = devices.RegisterToken(ctx, token, platform)
		} else {
			action = "unregistered"
			err = devices.UnregisterToken(ctx, token, platform)
		}
		if err != nil {
			return err
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{"status": action, "platform": platform})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Push token %s (%s)\n", colorGreen("✓"), action, platform)
		return nil
	})
}

func runSubscriptionsStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		status, err := a.r.Client().Subscriptions.Status(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, status)
		}
		fmt.Fprintf(out, "Premium:  %t\n", status.IsPremium)
		if sub := status.Subscription; sub != nil {
			fmt.Fprintf(out, "Plan:     %s\n", sub.Plan)
			fmt.Fprintf(out, "Status:   %s\n", sub.Status)
			fmt.Fprintf(out, "Expires:  %s\n", sub.ExpiresAt.Local().Format("2006-01-02"))
		}
		return nil
	})
}

func runSubscriptionsVerify(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if !a.r.Session().Authenticated() {
			return kiddoalert.ErrNotAuthenticated
		}
		if err := a.r.Client().Subscriptions.Verify(ctx, args[0]); err != nil {
			return err
		}
		// The plan changes the limits the gates use.
		if _, err := a.r.Auth().RefreshLimits(ctx); err != nil {
			a.logger.Warn("refresh limits failed", slog.String("error", err.Error()))
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{"status": "verified"})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Receipt verified\n", colorGreen("✓"))
		return nil
	})
}
