package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
)

// NewUserCmd creates the user command group
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

type createUserOptions struct {
	Username string
	Email    string
	Password string
	Admin    bool
}

func newUserCreateCmd() *cobra.Command {
	var opts createUserOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user with a password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Password == "" {
				opts.Password = os.Getenv("AUTHD_PASSWORD")
			}
			if opts.Password == "" {
				password, err := promptPassword()
				if err != nil {
					return err
				}
				opts.Password = password
			}

			db, _, closeDB, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDB()

			return runUserCreate(cmd.Context(), db, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Password (or set AUTHD_PASSWORD, will prompt if not provided)")
	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "Grant admin rights")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func promptPassword() (string, error) {
	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or AUTHD_PASSWORD env var)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(password), nil
}

func runUserCreate(ctx context.Context, db *gorm.DB, out io.Writer, opts createUserOptions) error {
	local := auth.NewLocalStrategy(db, config.StrategyConfig{Name: "Local", Protocol: config.ProtocolLocal})

	user, err := local.Register(ctx, url.Values{
		"username": {opts.Username},
		"email":    {opts.Email},
		"password": {opts.Password},
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if opts.Admin {
		if err := db.WithContext(ctx).Model(user).Update("is_admin", true).Error; err != nil {
			return fmt.Errorf("failed to grant admin rights: %w", err)
		}
	}

	fmt.Fprintf(out, "Created user %s (%s)\n", user.Username, user.ID)
	return nil
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, closeDB, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDB()

			return runUserList(cmd.Context(), db, cmd.OutOrStdout())
		},
	}
}

func runUserList(ctx context.Context, db *gorm.DB, out io.Writer) error {
	var users []models.User
	if err := db.WithContext(ctx).Preload("Passports").Order("created_at ASC").Find(&users).Error; err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Fprintln(out, "No users found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tADMIN\tPROVIDERS\tLOGINS")
	for _, user := range users {
		providers := ""
		for i, p := range user.Passports {
			if i > 0 {
				providers += ","
			}
			providers += p.Provider
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\n", user.ID, user.Username, user.Email, user.IsAdmin, providers, user.LoginCount)
	}
	return w.Flush()
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|username>",
		Short: "Delete a user and all their sign-in methods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, closeDB, err := openDatabase()
			if err != nil {
				return err
			}
			defer closeDB()

			return runUserDelete(cmd.Context(), db, cmd.OutOrStdout(), args[0])
		},
	}
}

func runUserDelete(ctx context.Context, db *gorm.DB, out io.Writer, ref string) error {
	var user models.User
	err := db.WithContext(ctx).Where("id = ? OR username = ?", ref, ref).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %q not found", ref)
		}
		return err
	}

	if err := models.DeleteUser(db.WithContext(ctx), &user); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Fprintf(out, "Deleted user %s (%s)\n", user.Username, user.ID)
	return nil
}
