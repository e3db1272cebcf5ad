package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	RunE:  runLogin,
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE:  runSignup,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the saved refresh token",
	RunE:  runRefresh,
}

func init() {
	for _, cmd := range []*cobra.Command{loginCmd, signupCmd} {
		cmd.Flags().String("email", "", "account email")
		cmd.Flags().String("password", "", "account password")
		_ = cmd.MarkFlagRequired("email")
		_ = cmd.MarkFlagRequired("password")
	}
	signupCmd.Flags().String("name", "", "display name")
	_ = signupCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(loginCmd, signupCmd, refreshCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	return signIn(cmd, email, password)
}

func runSignup(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	name, _ := cmd.Flags().GetString("name")

	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if err := newClient(cfg).SignUp(cmd.Context(), email, password, name); err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	return signIn(cmd, email, password)
}

func signIn(cmd *cobra.Command, email, password string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	session, err := newClient(cfg).SignIn(cmd.Context(), email, password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := saveSession(session); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", session.UserName, session.Role)
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if cfg.RefreshToken == "" {
		return errNotSignedIn
	}
	session, err := newClient(cfg).Refresh(cmd.Context(), cfg.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := saveSession(session); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "session refreshed")
	return nil
}
