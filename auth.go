package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantfolio/advisor-go/internal/api"
)

// Password flag shared by login and register. When empty, the password is
// read from stdin so it never lands in shell history by accident.
var flagPassword string

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate with the backend and store the session",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}
	cmd.Flags().StringVar(&flagPassword, "password", "", "password (read from stdin if omitted)")

	return cmd
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create a new account and log in",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegister,
	}
	cmd.Flags().StringVar(&flagPassword, "password", "", "password (read from stdin if omitted)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	username := args[0]

	password, err := resolvePassword()
	if err != nil {
		return err
	}

	if err := client.Login(context.Background(), username, password); err != nil {
		if errors.Is(err, api.ErrBadCredentials) {
			return fmt.Errorf("login declined: incorrect username or password")
		}

		return err
	}

	statusf("Logged in as %s.\n", username)

	return nil
}

func runRegister(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	username := args[0]

	password, err := resolvePassword()
	if err != nil {
		return err
	}

	if err := client.Register(context.Background(), username, password); err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Detail != "" {
			// Backend validation message verbatim (e.g. username taken).
			return fmt.Errorf("registration rejected: %s", apiErr.Detail)
		}

		return err
	}

	statusf("Registered and logged in as %s.\n", username)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := buildClient(logger)

	if err := client.Logout(context.Background()); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := buildClient(logger)

	identity := client.Identity()
	if identity == nil {
		// The access token may just be expired — try a silent renewal
		// before declaring the session gone.
		ok, err := client.SilentRefresh(context.Background())
		if err != nil {
			return fmt.Errorf("refreshing session: %w", err)
		}

		if ok {
			identity = client.Identity()
		}
	}

	if identity == nil {
		return fmt.Errorf("not logged in — run 'advisor-go login' first")
	}

	if flagJSON {
		out := whoamiOutput{
			Username:  identity.Username,
			Role:      identity.Role,
			ExpiresAt: identity.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	fmt.Printf("%s (%s), session valid until %s\n",
		identity.Username, identity.Role, formatTime(identity.ExpiresAt))

	return nil
}

// resolvePassword returns the --password flag value, or reads one line
// from stdin when the flag is empty.
func resolvePassword() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}

	return password, nil
}
