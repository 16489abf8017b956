package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/endodetect/endodetect/internal/api"
	"github.com/endodetect/endodetect/internal/models"
	"github.com/endodetect/endodetect/internal/render"
	"github.com/endodetect/endodetect/internal/session"
	"github.com/spf13/cobra"
)

func promptPassword(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	if env := os.Getenv("ENDODETECT_PASSWORD"); env != "" {
		return env, nil
	}
	return readSecret(cmd.Context(), cmd.ErrOrStderr(), cmd.InOrStdin(), "Password: ")
}

func newRegisterCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "register EMAIL",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pw, err := promptPassword(cmd, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(args[0]) == "" || pw == "" {
				return userError(&api.ValidationError{Detail: "Email and password are required."})
			}
			msg, err := a.client.Register(ctx, args[0], pw)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login EMAIL_OR_USERNAME",
		Short: "Sign in and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pw, err := promptPassword(cmd, password)
			if err != nil {
				return err
			}
			id, err := a.session.Login(ctx, models.Credentials{Identifier: args[0], Password: pw})
			if err != nil {
				return userError(err)
			}
			name, _ := a.session.CurrentDisplayName(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", name)
			if id.IsAdmin {
				fmt.Fprintln(cmd.OutOrStdout(), render.Muted("Administrator access enabled."))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

type whoami struct {
	LoggedIn    bool              `json:"logged_in" yaml:"logged_in"`
	DisplayName string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Identity    *session.Identity `json:"identity,omitempty" yaml:"identity,omitempty"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show who is signed in",
		Long: `Shows the signed-in user. With --watch, keeps running and reports every
sign-in or sign-out made from another terminal until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			status := whoami{LoggedIn: a.session.LoggedIn()}
			if status.LoggedIn {
				status.DisplayName, _ = a.session.CurrentDisplayName(ctx)
				status.Identity, _ = a.session.Identity()
				// The profile call may have found the token expired.
				status.LoggedIn = a.session.LoggedIn()
			}
			if err := a.emit(out, status, func() string {
				if !status.LoggedIn {
					return "Not signed in."
				}
				role := "user"
				if status.Identity != nil && status.Identity.IsAdmin {
					role = "admin"
				}
				return fmt.Sprintf("%s (%s)", status.DisplayName, role)
			}); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			events, unsubscribe := a.session.Subscribe()
			defer unsubscribe()
			if err := a.session.Watch(ctx); err != nil {
				return fmt.Errorf("failed to watch session: %w", err)
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					if ev.LoggedIn {
						fmt.Fprintf(out, "%s  signed in as %s (%s)\n", ev.Time.Format("15:04:05"), render.Text(ev.DisplayName), ev.Reason)
					} else {
						fmt.Fprintf(out, "%s  signed out (%s)\n", ev.Time.Format("15:04:05"), ev.Reason)
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and report session changes")
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			p, err := a.client.Profile(cmd.Context())
			if err != nil {
				return userError(err)
			}
			return a.emit(cmd.OutOrStdout(), p, func() string { return render.ProfileTable(*p) })
		},
	}

	var update models.ProfileUpdate
	edit := &cobra.Command{
		Use:   "update",
		Short: "Change your profile details",
		Long:  "Change your profile details. Fields not given keep their current value.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			ctx := cmd.Context()
			current, err := a.client.Profile(ctx)
			if err != nil {
				return userError(err)
			}
			merged := models.ProfileUpdate{
				Name:       current.Name,
				Workplace:  current.Workplace,
				Address:    current.Address,
				Occupation: current.Occupation,
				Phone:      current.Phone,
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				merged.Name = update.Name
			}
			if flags.Changed("workplace") {
				merged.Workplace = update.Workplace
			}
			if flags.Changed("address") {
				merged.Address = update.Address
			}
			if flags.Changed("occupation") {
				merged.Occupation = update.Occupation
			}
			if flags.Changed("phone") {
				merged.Phone = update.Phone
			}

			if err := a.client.UpdateProfile(ctx, merged); err != nil {
				return userError(err)
			}
			name, _ := a.session.CurrentDisplayName(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Profile updated. Signed in as %s\n", name)
			return nil
		},
	}
	edit.Flags().StringVar(&update.Name, "name", "", "Full name")
	edit.Flags().StringVar(&update.Workplace, "workplace", "", "Workplace")
	edit.Flags().StringVar(&update.Address, "address", "", "Address")
	edit.Flags().StringVar(&update.Occupation, "occupation", "", "Occupation")
	edit.Flags().StringVar(&update.Phone, "phone", "", "Phone number")

	cmd.AddCommand(show, edit)
	return cmd
}
