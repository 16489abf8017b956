package cmd

import (
	"errors"
	"fmt"

	"github.com/endodetect/endodetect/internal/admin"
	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/endodetect/endodetect/internal/render"
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator tools",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if err := a.requireLogin(); err != nil {
				return err
			}
			id, err := a.session.Identity()
			if err == nil && !id.IsAdmin {
				return errors.New("administrator access required")
			}
			return nil
		},
	}
	cmd.AddCommand(
		newAdminStatsCmd(a),
		newAdminUsersCmd(a),
		newAdminCreateUserCmd(a),
		newAdminPromoteCmd(a),
		newAdminDeleteUserCmd(a),
		newAdminUploadsCmd(a),
		newAdminDeleteUploadsCmd(a),
	)
	return cmd
}

// cancelled reports a declined confirmation as a normal outcome.
func cancelled(cmd *cobra.Command, err error) error {
	if errors.Is(err, listing.ErrNotConfirmed) {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
		return nil
	}
	return userError(err)
}

func newAdminStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show total users and uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := admin.New(a.client)
			if err := d.RefreshStats(cmd.Context()); err != nil {
				return userError(err)
			}
			stats := d.Stats()
			return a.emit(cmd.OutOrStdout(), stats, func() string { return render.StatsTable(stats) })
		},
	}
}

func newAdminUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := admin.New(a.client)
			if err := d.ListUsers(cmd.Context()); err != nil {
				return userError(err)
			}
			users := d.Users()
			return a.emit(cmd.OutOrStdout(), users, func() string { return render.UsersTable(users) })
		},
	}
}

func newAdminCreateUserCmd(a *app) *cobra.Command {
	var u models.NewUser

	cmd := &cobra.Command{
		Use:   "create-user EMAIL",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			u.Email = args[0]
			pw, err := promptPassword(cmd, u.Password)
			if err != nil {
				return err
			}
			u.Password = pw

			d := admin.New(a.client)
			if err := d.CreateUser(ctx, u); err != nil {
				var verr *api.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("invalid user: %s", verr.Detail)
				}
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s. Total users: %d\n", u.Email, d.Stats().TotalUsers)
			return nil
		},
	}
	cmd.Flags().StringVarP(&u.Password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&u.Name, "name", "", "Full name")
	cmd.Flags().BoolVar(&u.IsAdmin, "admin", false, "Grant administrator rights")
	return cmd
}

func newAdminPromoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "promote USER_ID",
		Short: "Grant administrator rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := admin.New(a.client)
			if err := d.Promote(cmd.Context(), args[0]); err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "User promoted.")
			return nil
		},
	}
}

func newAdminDeleteUserCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-user USER_ID",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d := admin.New(a.client)
			if err := d.ListUsers(ctx); err != nil {
				return userError(err)
			}
			if err := d.DeleteUser(ctx, args[0], newConfirmer(cmd, yes)); err != nil {
				return cancelled(cmd, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User deleted. Total users: %d\n", d.Stats().TotalUsers)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newAdminUploadsCmd(a *app) *cobra.Command {
	var (
		filter string
		pages  int
	)

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List every user's uploads, newest first",
		Long: `Lists every user's uploads, newest first.

--filter matches patient name, patient ID or uploader email among the pages
loaded; use --pages 0 to search everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := admin.New(a.client)
			if err := loadPages(cmd.Context(), d.Uploads, pages); err != nil {
				return userError(err)
			}
			d.Uploads.SetFilter(filter)
			visible := d.Uploads.Visible()
			return a.emit(cmd.OutOrStdout(), visible, func() string {
				out := render.AdminUploadsTable(visible, nil)
				if d.Uploads.HasMore() {
					out += "\n" + render.Muted(fmt.Sprintf("More uploads available: rerun with --pages %d", pages+1))
				}
				return out
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show uploads matching this text")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load (0 loads all)")
	return cmd
}

func newAdminDeleteUploadsCmd(a *app) *cobra.Command {
	var (
		filter string
		all    bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "delete-uploads [ID...]",
		Short: "Permanently delete uploads of any user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d := admin.New(a.client)
			confirm := newConfirmer(cmd, yes)

			if len(args) == 1 && !all {
				if err := d.DeleteUpload(ctx, args[0], confirm); err != nil {
					return cancelled(cmd, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Upload deleted. Total uploads: %d\n", d.Stats().TotalUploads)
				return nil
			}

			if err := loadPages(ctx, d.Uploads, 0); err != nil {
				return userError(err)
			}
			d.Uploads.SetFilter(filter)
			selectRecords(d.Uploads, args, all)

			requested := len(d.Uploads.Selected())
			n, err := d.DeleteSelectedUploads(ctx, confirm)
			if errors.Is(err, listing.ErrEmptySelection) {
				return errors.New("nothing selected: pass upload IDs or --all")
			}
			if err != nil {
				return cancelled(cmd, err)
			}
			printDeleted(cmd.OutOrStdout(), n, requested)
			fmt.Fprintf(cmd.OutOrStdout(), "Total uploads: %d\n", d.Stats().TotalUploads)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Restrict --all to uploads matching this text")
	cmd.Flags().BoolVar(&all, "all", false, "Select every upload matching --filter")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
