package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-idm-stepflow/internal/backend"
	"github.com/tendant/simple-idm-stepflow/pkg/auth"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Provision accounts that can sign in",
}

var (
	addEmail    string
	addPassword string
)

var usersAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Long: `Create a user with a hashed password. When --password is omitted the
password is read from the first line of stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := addPassword
		if password == "" {
			var err error
			if password, err = readLine(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			users := auth.NewUserService(s.stores.Users, auth.NewPasswordPolicy(s.cfg.PasswordPolicy), backend.EmailRules(s.cfg))
			user, err := users.Create(ctx, args[0], addEmail, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		})
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the Argon2id hash of a password",
	Long:  `Print the encoded hash stored for a password. Reads stdin when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var password string
		if len(args) == 1 {
			password = args[0]
		} else {
			var err error
			if password, err = readLine(cmd.InOrStdin()); err != nil {
				return err
			}
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func init() {
	usersAddCmd.Flags().StringVar(&addEmail, "email", "", "email address used for code delivery")
	usersAddCmd.Flags().StringVar(&addPassword, "password", "", "initial password")
	_ = usersAddCmd.MarkFlagRequired("email")

	usersCmd.AddCommand(usersAddCmd)
	rootCmd.AddCommand(usersCmd, hashPasswordCmd)
}
