package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
)

var childrenCmd = &cobra.Command{
	Use:     "children",
	Aliases: []string{"child"},
	Short:   "Manage monitored children",
	Long: `Children commands. Without a session, added children are stored locally
only and have no invite token.

Examples:
  kiddoalert children list
  kiddoalert children add Ana
  kiddoalert children rename 01HXYZ... "Ana Clara"
  kiddoalert children invite 01HXYZ...
  kiddoalert children remove 01HXYZ...`,
}

var childrenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List children",
	RunE:  runChildrenList,
}

var childrenAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a child",
	Args:  cobra.ExactArgs(1),
	RunE:  runChildrenAdd,
}

var childrenRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a child",
	Args:  cobra.ExactArgs(2),
	RunE:  runChildrenRename,
}

var childrenRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a child and every alert it owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runChildrenRemove,
}

var childrenInviteCmd = &cobra.Command{
	Use:   "invite <id>",
	Short: "Create a new invite token for a child's device",
	Args:  cobra.ExactArgs(1),
	RunE:  runChildrenInvite,
}

func init() {
	childrenRemoveCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	childrenCmd.AddCommand(childrenListCmd)
	childrenCmd.AddCommand(childrenAddCmd)
	childrenCmd.AddCommand(childrenRenameCmd)
	childrenCmd.AddCommand(childrenRemoveCmd)
	childrenCmd.AddCommand(childrenInviteCmd)

	rootCmd.AddCommand(childrenCmd)
}

func runChildrenList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		children := a.r.Children()
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, map[string]interface{}{
				"children": children,
				"count":    len(children),
			})
		}
		if len(children) == 0 {
			fmt.Fprintln(out, "No children found")
			return nil
		}

		w := newTable(out)
		printTableHeader(w, "ID", "NAME", "STATUS", "SHARING", "BATTERY", "LAST FIX")
		for _, c := range children {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
				truncate(c.ID, 14),
				c.Name,
				formatChildStatus(c),
				c.Sharing,
				formatBattery(c.BatteryLevel),
				formatFixAge(c),
			)
		}
		return w.Flush()
	})
}

func formatChildStatus(c kiddoalert.Child) string {
	status := string(c.Status)
	switch c.Status {
	case kiddoalert.StatusAtHome, kiddoalert.StatusAtSchool:
		status = colorGreen(status)
	case kiddoalert.StatusSharingPaused:
		status = colorYellow(status)
	}
	if c.LocalOnly {
		status += " (local)"
	}
	return status
}

func formatBattery(level *int) string {
	if level == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *level)
}

func formatFixAge(c kiddoalert.Child) string {
	if c.LastFixAt == nil {
		return "-"
	}
	return c.LastFixAt.Local().Format("2006-01-02 15:04")
}

func runChildrenAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if a.r.Session().Authenticated() && !a.r.Auth().CanAddChild() {
			return kiddoalert.WrapOpError("add child", args[0], kiddoalert.ErrLimitExceeded)
		}
		child, token, err := a.r.AddChild(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, map[string]interface{}{
				"child":        child,
				"invite_token": token,
			})
		}
		fmt.Fprintf(out, "%s Child added: %s (%s)\n", colorGreen("✓"), child.Name, child.ID)
		if token != "" {
			fmt.Fprintf(out, "\n  Invite token: %s\n", token)
			fmt.Fprintln(out, "  Enter it on the child's device to link it.")
		} else {
			fmt.Fprintf(out, "\n%s Stored on this device only. Sign in to invite the child's device.\n", colorYellow("ℹ"))
		}
		return nil
	})
}

func runChildrenRename(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.r.RenameChild(ctx, args[0], args[1]); err != nil {
			return err
		}
		if structured() {
			child, err := a.r.Child(args[0])
			if err != nil {
				return err
			}
			return printStructured(cmd.OutOrStdout(), child)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Child renamed: %s\n", colorGreen("✓"), args[1])
		return nil
	})
}

func runChildrenRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	force, _ := cmd.Flags().GetBool("force")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		child, err := a.r.Child(id)
		if err != nil {
			return err
		}
		if !force && !confirm(cmd, fmt.Sprintf("Remove %s and every alert it owns?", child.Name)) {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
		if err := a.r.RemoveChild(ctx, id); err != nil {
			return err
		}
		if structured() {
			return printStructured(cmd.OutOrStdout(), map[string]string{
				"status":  "removed",
				"message": fmt.Sprintf("Child %s removed", id),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Child removed: %s\n", colorGreen("✓"), child.Name)
		return nil
	})
}

func runChildrenInvite(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		invite, err := a.r.InviteChild(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if structured() {
			return printStructured(out, invite)
		}
		fmt.Fprintf(out, "%s Invite created\n\n", colorGreen("✓"))
		fmt.Fprintf(out, "  Token:   %s\n", invite.Token)
		fmt.Fprintf(out, "  Expires: %s\n", invite.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	})
}
