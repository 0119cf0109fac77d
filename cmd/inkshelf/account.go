package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:     "login [email]",
	GroupID: "account",
	Short:   "Log in to the sync service",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var email string
		if len(args) == 1 {
			email = args[0]
		}

		email, password, err := credentials(email)
		if err != nil {
			return err
		}

		user, err := a.auth.Login(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", user.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:     "register <email> <name>",
	GroupID: "account",
	Short:   "Create a sync account",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := promptPassword("Choose a password")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Confirm password")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		user, err := a.auth.Register(ctx, args[0], password, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Registered and logged in as %s\n", user.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Log out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user := a.auth.CurrentUser()
		if user == nil {
			fmt.Println("Not logged in.")
			return nil
		}

		// Refresh the profile from the server when reachable; the cached
		// record still answers offline.
		if a.probeOnce(ctx) {
			if fresh, err := a.auth.Me(ctx); err == nil {
				user = fresh
			}
		}
		fmt.Printf("%s <%s>\n", user.Name, user.Email)
		return nil
	},
}

// credentials collects login details: an interactive form on a TTY, plain
// prompts otherwise.
func credentials(email string) (string, string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", "", fmt.Errorf("login requires an interactive terminal")
	}

	var password string
	fields := []huh.Field{}
	if email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&email).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("email is required")
				}
				return nil
			}))
	}
	fields = append(fields, huh.NewInput().
		Title("Password").
		EchoMode(huh.EchoModePassword).
		Value(&password))

	form := huh.NewForm(huh.NewGroup(fields...))
	if err := form.Run(); err != nil {
		// Fall back to a plain prompt when the form cannot drive the
		// terminal (e.g. dumb terminals).
		return plainCredentials(email)
	}
	return email, password, nil
}

func plainCredentials(email string) (string, string, error) {
	if email == "" {
		fmt.Print("Email: ")
		if _, err := fmt.Scanln(&email); err != nil {
			return "", "", err
		}
	}
	password, err := promptPassword("Password")
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
}
