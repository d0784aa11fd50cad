package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plagiascan/plagiascan-cli/internal/utils"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the server and store the access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" || password == "" {
			return fmt.Errorf("both --username and --password are required")
		}

		a := newApp(cmd)
		token, err := a.client.Login(cmd.Context(), username, password)
		if err != nil {
			return err
		}
		if err := storeToken(token); err != nil {
			return fmt.Errorf("logged in, but could not store the token: %w", err)
		}
		utils.Log.Info("Logged in.")
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")
		if email == "" || password == "" {
			return fmt.Errorf("both --email and --password are required")
		}

		a := newApp(cmd)
		if err := a.client.Register(cmd.Context(), email, password, name); err != nil {
			return err
		}
		utils.Log.Info("Registered. Run 'plagiascan login' to authenticate.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	Run: func(cmd *cobra.Command, args []string) {
		clearStoredToken()
		utils.Log.Info("Logged out.")
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)

	loginCmd.Flags().StringP("username", "u", "", "Account email")
	loginCmd.Flags().StringP("password", "p", "", "Account password")

	registerCmd.Flags().String("email", "", "Account email")
	registerCmd.Flags().String("password", "", "Account password")
	registerCmd.Flags().String("name", "", "Full name (optional)")
}
