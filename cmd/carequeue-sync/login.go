package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (read from stdin if omitted)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		password := loginPassword
		if password == "" {
			fmt.Print("Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimSpace(line)
		}

		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		result, err := c.Auth.Login(ctx, loginEmail, password)
		if err != nil {
			return err
		}
		if !result.IsSuccess {
			for field, msg := range result.Errors {
				fmt.Printf("  %s: %s\n", field, msg)
			}
			return fmt.Errorf("login failed: %s", valueOrDefault(result.Message, "invalid credentials"))
		}

		if result.Data != nil {
			fmt.Printf("Signed in as %s (%s)\n", result.Data.Email, result.Data.Role)
		} else {
			fmt.Println("Signed in.")
		}
		if n := c.Engine.GetPendingActionsCount(ctx); n > 0 {
			fmt.Printf("%d queued action(s) will sync on the next pass.\n", n)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and drop local session data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := openAgent(ctx)
		if err != nil {
			return err
		}
		defer closeAgent(c)

		if err := c.Auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}
