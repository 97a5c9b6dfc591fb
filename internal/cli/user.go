package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudretail/saga/internal/auth"
)

func newUserCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage API users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account. The password is prompted for unless --password-stdin
is given.

Examples:
  # Create an administrator
  retailsaga user create --name Ops --email ops@example.com --admin

  # Non-interactive
  echo "$PASSWORD" | retailsaga user create --name Ada --email ada@example.com --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			admin, _ := cmd.Flags().GetBool("admin")
			fromStdin, _ := cmd.Flags().GetBool("password-stdin")

			var (
				password string
				err      error
			)
			if fromStdin {
				password, err = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && password == "" {
					return errors.New("failed to read password from stdin")
				}
				password = strings.TrimRight(password, "\r\n")
			} else if password, err = readPassword(); err != nil {
				return err
			}

			role := auth.RoleCustomer
			if admin {
				role = auth.RoleAdmin
			}

			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			users := auth.NewService(auth.NewRepository(db), nil, a.logger.Named("auth"))
			u, err := users.CreateUser(cmd.Context(), auth.Credentials{Name: name, Email: email, Password: password}, role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s user %d <%s>\n", u.Role, u.ID, u.Email)
			return err
		},
	}
	createCmd.Flags().String("name", "", "Display name (required)")
	createCmd.Flags().String("email", "", "Login email (required)")
	createCmd.Flags().Bool("admin", false, "Grant the admin role")
	createCmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("email")

	cmd.AddCommand(createCmd)
	return cmd
}
