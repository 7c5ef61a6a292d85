package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igrelay/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Instagram session used by the bot",
	Long: `Manage stored Instagram credentials.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation

IGRELAY_SESSION_ID and IGRELAY_CSRF_TOKEN override stored credentials.
Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store Instagram credentials securely",
	Long: `Store the sessionid and csrftoken cookies of a logged-in Instagram web
session. Cookie values are read without echo.`,
	Example: `  # Interactive login
  igrelay auth login

  # Login with username
  igrelay auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [username]",
	Short: "Remove stored credentials",
	Long: `Remove stored Instagram credentials. Without a username the only stored
account is removed after confirmation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored Instagram accounts with masked credential values.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	auth.WriteCookieGuide(out)

	var username string
	if len(args) > 0 {
		username = strings.TrimSpace(args[0])
	} else {
		fmt.Fprint(out, "📱 Instagram username: ")
		username, err = readLine(reader)
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if existing, _ := manager.Retrieve(username); existing != nil {
		fmt.Fprintf(out, "\n⚠️  Account '%s' already exists. Update credentials? (y/N): ", username)
		if !confirm(reader) {
			return nil
		}
	}

	fmt.Fprintln(out, "\n🔐 Enter your cookie values (they will be hidden as you type):")

	fmt.Fprint(out, "sessionid cookie value: ")
	sessionID, err := readSecret(out, reader)
	if err != nil {
		return fmt.Errorf("failed to read session ID: %w", err)
	}

	fmt.Fprint(out, "csrftoken cookie value: ")
	csrfToken, err := readSecret(out, reader)
	if err != nil {
		return fmt.Errorf("failed to read CSRF token: %w", err)
	}

	fmt.Fprint(out, "🌐 User Agent (press Enter to use default): ")
	userAgent, _ := readLine(reader)

	account := &auth.Account{
		Username:  username,
		SessionID: sessionID,
		CSRFToken: csrfToken,
		UserAgent: userAgent,
	}
	if err := manager.Store(account); err != nil {
		return err
	}

	sanitized := auth.SanitizeAccount(account)
	fmt.Fprintf(out, "\n✅ Credentials stored for %s (session %s)\n", sanitized.Username, sanitized.SessionID)
	fmt.Fprintln(out, "\nStart the bot with:")
	fmt.Fprintf(out, "  $ igrelay run --account %s\n", username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	out := cmd.OutOrStdout()

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		accounts, err := manager.List()
		if err != nil {
			return err
		}
		switch len(accounts) {
		case 0:
			fmt.Fprintln(out, "No stored accounts found")
			return nil
		case 1:
			username = accounts[0].Username
			fmt.Fprintf(out, "Remove account '%s'? (y/N): ", username)
			if !confirm(bufio.NewReader(cmd.InOrStdin())) {
				return nil
			}
		default:
			return fmt.Errorf("%d accounts stored, name the one to remove", len(accounts))
		}
	}

	if err := manager.Delete(username); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	fmt.Fprintln(out, "✅ Account removed: "+username)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No stored accounts. Use 'igrelay auth login' to add one.")
		return nil
	}

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Fprintf(out, "%d. Username: %s\n", i+1, sanitized.Username)
		fmt.Fprintf(out, "   Session ID: %s\n", sanitized.SessionID)
		fmt.Fprintf(out, "   CSRF Token: %s\n", sanitized.CSRFToken)
		if sanitized.UserAgent != "" {
			fmt.Fprintf(out, "   User Agent: %s\n", sanitized.UserAgent)
		}
		fmt.Fprintf(out, "   Last Modified: %s\n\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func readLine(reader *bufio.Reader) (string, error) {
	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func confirm(reader *bufio.Reader) bool {
	input, _ := readLine(reader)
	return strings.HasPrefix(strings.ToLower(input), "y")
}

// readSecret reads a value without echo when stdin is a terminal
func readSecret(out io.Writer, reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	return readLine(reader)
}
