package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/findosh/eshotry/internal/models"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to your account",
		Long: `Log in with email and password. When --password is omitted the password
is read from the first line of standard input.

Items in your local cart are added to your account cart.`,
		Example: `  eshotry login --email ada@example.com
  echo "$PASSWORD" | eshotry login --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			user, err := a.session.Login(cmd.Context(), email, password)
			if err != nil {
				return userError(err)
			}
			a.printer.Success("Welcome back, %s!", user.DisplayName())
			if n := a.cart.ItemCount(); n > 0 {
				a.printer.Info("Your cart has %d item(s)", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		input     models.RegisterInput
		marketing bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input.Password == "" {
				var err error
				if input.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if input.PasswordConfirm == "" {
				input.PasswordConfirm = input.Password
			}
			if cmd.Flags().Changed("marketing") {
				input.MarketingNotifications = &marketing
			}

			user, err := a.session.Register(cmd.Context(), input)
			if err != nil {
				return userError(err)
			}
			a.printer.Success("Welcome to EshoTry, %s!", user.DisplayName())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input.Email, "email", "", "account email")
	f.StringVar(&input.Username, "username", "", "username")
	f.StringVar(&input.FirstName, "first-name", "", "first name")
	f.StringVar(&input.LastName, "last-name", "", "last name")
	f.StringVar(&input.PhoneNumber, "phone", "", "phone number")
	f.StringVar(&input.Password, "password", "", "password (read from stdin when omitted)")
	f.StringVar(&input.PasswordConfirm, "password-confirm", "", "password confirmation (defaults to --password)")
	f.BoolVar(&marketing, "marketing", false, "receive marketing notifications")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.session.State().Tokens == nil {
				a.printer.Info("You are not logged in")
				return nil
			}
			a.session.Logout(cmd.Context())
			a.printer.Success("Logged out successfully")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := a.session.User()
			if user == nil || !a.session.IsAuthenticated() {
				a.printer.Info("Not logged in")
				return nil
			}

			rows := [][]string{
				{"Email", user.Email},
				{"Name", strings.TrimSpace(user.FirstName + " " + user.LastName)},
				{"Username", user.Username},
			}
			if user.PhoneNumber != "" {
				rows = append(rows, []string{"Phone", user.PhoneNumber})
			}
			if !user.CreatedAt.IsZero() {
				rows = append(rows, []string{"Member since", user.CreatedAt.Format("Jan 2, 2006")})
			}
			return a.printer.Table([]string{"Field", "Value"}, rows)
		},
	}
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}
	cmd.AddCommand(newProfileUpdateCmd(a))
	return cmd
}

func newProfileUpdateCmd(a *app) *cobra.Command {
	var (
		firstName, lastName, phone, gender string
		marketing, email                   bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields",
		Example: `  eshotry profile update --first-name Ada --phone "+1 555 0100"
  eshotry profile update --marketing=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			update := models.ProfileUpdate{}
			if f.Changed("first-name") {
				update["first_name"] = firstName
			}
			if f.Changed("last-name") {
				update["last_name"] = lastName
			}
			if f.Changed("phone") {
				update["phone_number"] = phone
			}
			if f.Changed("gender") {
				update["gender"] = gender
			}
			if f.Changed("marketing") {
				update["marketing_notifications"] = marketing
			}
			if f.Changed("email-notifications") {
				update["email_notifications"] = email
			}
			if len(update) == 0 {
				return errors.New("nothing to update")
			}

			user, err := a.session.UpdateProfile(cmd.Context(), update)
			if err != nil {
				return userError(err)
			}
			a.printer.Success("Profile updated for %s", user.DisplayName())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&firstName, "first-name", "", "first name")
	f.StringVar(&lastName, "last-name", "", "last name")
	f.StringVar(&phone, "phone", "", "phone number")
	f.StringVar(&gender, "gender", "", "gender (M, F, O or P)")
	f.BoolVar(&marketing, "marketing", false, "receive marketing notifications")
	f.BoolVar(&email, "email-notifications", false, "receive order emails")
	return cmd
}

// readSecret reads a single line from r
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
