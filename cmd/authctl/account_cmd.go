package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zahash/mona/internal/audit"
	"github.com/zahash/mona/internal/auth"
)

func newRotateKeyCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key <name>",
		Short: "Replace a signing key; envelopes signed with the old key stop verifying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.RotateKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotated %s\n", args[0])
			return nil
		},
	}
}

func newCreateUserCmd(e *env) *cobra.Command {
	var username, email string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an account with the signup permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("MONA_PASSWORD")
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password required: use --password-stdin or MONA_PASSWORD")
			}
			svc, _, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			u, err := svc.Signup(cmd.Context(), auth.SignupRequest{Username: username, Email: email, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// newGrantCmd grants directly, bypassing the holder check. It exists to
// bootstrap the first administrator.
func newGrantCmd(e *env) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "grant <username> [permission...]",
		Short: "Grant permissions or groups to a user without an assigner",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && len(groups) == 0 {
				return errors.New("nothing to grant: name permissions or --group")
			}
			st, err := e.store(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			username, perms := args[0], args[1:]
			err = st.InTx(ctx, func(tx auth.Tx) error {
				u, err := tx.FindUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %q: %w", username, err)
				}
				subject := auth.Subject{Type: auth.SubjectUser, ID: u.ID}
				for _, name := range perms {
					perm, err := tx.FindPermission(ctx, name)
					if err != nil {
						return fmt.Errorf("permission %q: %w", name, err)
					}
					if err := tx.Grant(ctx, subject, perm.ID); err != nil {
						return err
					}
				}
				for _, g := range groups {
					if err := tx.GrantGroup(ctx, u.ID, g); err != nil {
						return fmt.Errorf("group %q: %w", g, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			_ = audit.LogEvent(ctx, "permission.bootstrap", map[string]any{
				"username":    username,
				"permissions": perms,
				"groups":      groups,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d permission(s) and %d group(s) to %s\n", len(perms), len(groups), username)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&groups, "group", nil, "permission group to grant (repeatable)")
	return cmd
}

func newSessionsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage login sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.PruneSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d session(s)\n", n)
			return nil
		},
	})
	return cmd
}

func newAuditCmd(e *env) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the permission audit log",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent permission changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := e.store(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := st.ListAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if entries == nil {
					entries = []auth.AuditEntry{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tPERMISSION\tASSIGNER\tASSIGNEE")
			for _, a := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%s\t%s:%s\n",
					a.CreatedAt.UTC().Format("2006-01-02 15:04:05"), a.Action, a.PermissionID,
					a.Assigner.Type, a.Assigner.ID, a.Assignee.Type, a.Assignee.ID)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)
	return cmd
}
