package commands

import (
	"fmt"

	scraper "skyassist-backend/lib/scrapers/skyward"

	"github.com/spf13/cobra"
)

var (
	loginLink     string
	loginUsername string
	loginPassword string
)

func init() {
	loginCmd.Flags().StringVar(&loginLink, "link", "", "The portal login page link.")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "The portal username.")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "The portal password.")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [--link <url> --username <name> --password <password>]",
	Short: "Authenticates against the portal, saving the given credentials first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		if loginUsername != "" {
			err := runtime.SaveCredentials(cmd.Context(), scraper.Credentials{
				Link:     loginLink,
				Username: loginUsername,
				Password: loginPassword,
			})
			if err != nil {
				return fmt.Errorf("save credentials: %w", err)
			}
		}

		_, err := unwrap(runtime.Service.Authenticate(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Println("logged in")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clears the session and the cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		runtime := openRuntime()
		defer runtime.Close()

		_, err := unwrap(runtime.Service.Logout(cmd.Context()))
		if err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}
