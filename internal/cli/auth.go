package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/spf13/cobra"
)

var (
	authEmail    string
	authFullName string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the platform account session",
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a platform account",
	Long: `Create a platform account. The password is read from the terminal.

Examples:
  botctl auth register --email me@example.com --name "Nguyen Van A"`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the access token",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in account",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.ClearToken(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVarP(&authEmail, "email", "e", "", "account email (prompted when empty)")
	}
	registerCmd.Flags().StringVar(&authFullName, "name", "", "full name")

	authCmd.AddCommand(registerCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(whoamiCmd)
	authCmd.AddCommand(logoutCmd)
}

// credentials prompts for whatever was not given as a flag.
func credentials() (string, string, error) {
	email := authEmail
	if email == "" {
		var err error
		if email, err = readLine("Email: "); err != nil {
			return "", "", err
		}
	}
	if email == "" {
		return "", "", errors.New("email is required")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return "", "", err
	}
	if password == "" {
		return "", "", errors.New("password is required")
	}
	return email, password, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	input := client.RegisterInput{Email: email, Password: password}
	if authFullName != "" {
		input.FullName = &authFullName
	}

	ctx, cancel := requestContext()
	defer cancel()

	user, err := api.Register(ctx, input)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Printf("Registered %s (id %d). Run 'botctl auth login' to start a session.\n", user.Email, user.ID)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	token, err := api.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("login failed: wrong email or password")
		}
		return fmt.Errorf("login: %w", err)
	}
	if err := store.SetToken(token.AccessToken, email); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", email)
	if exp, err := client.TokenExpiry(token.AccessToken); err == nil {
		fmt.Printf("  Session valid until %s\n", exp.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	if store.Get().Token == "" {
		return errors.New("not logged in, run 'botctl auth login'")
	}

	ctx, cancel := requestContext()
	defer cancel()

	user, err := api.Me(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("session is no longer valid, run 'botctl auth login'")
		}
		return fmt.Errorf("get account: %w", err)
	}

	fmt.Printf("%s (id %d)\n", user.Email, user.ID)
	if user.FullName != nil && *user.FullName != "" {
		fmt.Printf("  Name: %s\n", *user.FullName)
	}
	fmt.Printf("  Plan: %s\n", user.Plan)
	if !user.CreatedAt.IsZero() {
		fmt.Printf("  Member since: %s\n", user.CreatedAt.Format("2006-01-02"))
	}
	return nil
}
