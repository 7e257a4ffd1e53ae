// ABOUTME: Admin CLI for pllm-gateway account and key management
// ABOUTME: Talks HTTP to the gateway admin API with bearer authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const banner = `
        _ _                           _           _
  _ __ | | |_ __ ___         __ _  __| |_ __ ___ (_)_ __
 | '_ \| | | '_ ' _ \ _____ / _' |/ _' | '_ ' _ \| | '_ \
 | |_) | | | | | | | |_____| (_| | (_| | | | | | | | | | |
 | .__/|_|_|_| |_| |_|      \__,_|\__,_|_| |_| |_|_|_| |_|
 |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PLLM_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := &client{baseURL: strings.TrimRight(baseURL, "/"), token: os.Getenv("PLLM_TOKEN")}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = cmdLogin(client, args)
	case "me":
		err = cmdMe(client)
	case "users":
		err = cmdUsers(client, args)
	case "keys":
		err = cmdKeys(client, args)
	case "sessions":
		err = cmdSessions(client)
	case "audit":
		err = cmdAudit(client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: pllm-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login <username>            Log in and print a bearer token")
	fmt.Println("  me                          Show your identity")
	fmt.Println("  sessions                    List your active sessions")
	fmt.Println("  users list                  List all accounts")
	fmt.Println("  users create <name> [perms] Create an account (comma-separated permissions)")
	fmt.Println("  users delete <name>         Delete an account and revoke its sessions")
	fmt.Println("  keys issue <name>           Issue a new API key for an account")
	fmt.Println("  keys revoke <name> <key>    Revoke an API key")
	fmt.Println("  audit [limit]               Show recent audit entries")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PLLM_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  PLLM_TOKEN         Bearer token or API key (required except for login)")
}

// client is a minimal authenticated HTTP client for the gateway API.
type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s (status %d)", errBody.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// promptPassword reads a password without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

func cmdLogin(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pllm-admin login <username>")
	}
	username := args[0]

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	var result struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &result); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("Login successful.")
	fmt.Printf("Token (expires %s):\n%s\n", result.ExpiresAt.Format("Jan 02, 2006 15:04"), result.Token)
	fmt.Println("\nExport it for later commands:")
	fmt.Printf("  export PLLM_TOKEN=%s\n", result.Token)
	return nil
}

type userInfo struct {
	Username    string     `json:"username"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login"`
	IsActive    bool       `json:"is_active"`
	RateLimit   int        `json:"rate_limit"`
	APIKeyCount int        `json:"api_key_count"`
}

func cmdMe(c *client) error {
	var info userInfo
	if err := c.do(http.MethodGet, "/auth/me", nil, &info); err != nil {
		return err
	}

	fmt.Printf("Username:    %s\n", info.Username)
	fmt.Printf("Permissions: %s\n", strings.Join(info.Permissions, ", "))
	fmt.Printf("Rate limit:  %d/hour\n", info.RateLimit)
	fmt.Printf("API keys:    %d\n", info.APIKeyCount)
	if info.LastLogin != nil {
		fmt.Printf("Last login:  %s\n", info.LastLogin.Format(time.RFC3339))
	}
	return nil
}

func cmdUsers(c *client, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		var users []userInfo
		if err := c.do(http.MethodGet, "/admin/users", nil, &users); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tACTIVE\tPERMISSIONS\tKEYS\tRATE LIMIT\tLAST LOGIN")
		for _, u := range users {
			lastLogin := "never"
			if u.LastLogin != nil {
				lastLogin = u.LastLogin.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%d\t%s\n",
				u.Username, u.IsActive, strings.Join(u.Permissions, ","), u.APIKeyCount, u.RateLimit, lastLogin)
		}
		return w.Flush()

	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: pllm-admin users create <username> [permissions]")
		}
		username := args[1]
		permissions := []string{"chat"}
		if len(args) > 2 {
			permissions = strings.Split(args[2], ",")
		}

		password, err := promptPassword("Password for new account: ")
		if err != nil {
			return err
		}

		var info userInfo
		if err := c.do(http.MethodPost, "/admin/users", map[string]any{
			"username":    username,
			"password":    password,
			"permissions": permissions,
		}, &info); err != nil {
			return err
		}
		color.Green("Created user %s with permissions [%s]", info.Username, strings.Join(info.Permissions, ", "))
		return nil

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: pllm-admin users delete <username>")
		}
		if err := c.do(http.MethodDelete, "/admin/users/"+args[1], nil, nil); err != nil {
			return err
		}
		color.Green("Deleted user %s", args[1])
		return nil

	default:
		return fmt.Errorf("unknown users subcommand: %s", sub)
	}
}

func cmdKeys(c *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pllm-admin keys <issue|revoke> <username> [key]")
	}

	switch args[0] {
	case "issue":
		var result struct {
			APIKey string `json:"api_key"`
		}
		if err := c.do(http.MethodPost, "/admin/users/"+args[1]+"/keys", nil, &result); err != nil {
			return err
		}
		color.Green("Issued key for %s:", args[1])
		fmt.Println(result.APIKey)
		color.Yellow("Store it now; it will not be shown again.")
		return nil

	case "revoke":
		if len(args) < 3 {
			return fmt.Errorf("usage: pllm-admin keys revoke <username> <key>")
		}
		if err := c.do(http.MethodDelete, "/admin/users/"+args[1]+"/keys", map[string]string{
			"key": args[2],
		}, nil); err != nil {
			return err
		}
		color.Green("Revoked key for %s", args[1])
		return nil

	default:
		return fmt.Errorf("unknown keys subcommand: %s", args[0])
	}
}

func cmdSessions(c *client) error {
	var sessions []struct {
		SessionID string    `json:"session_id"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
		IPAddress string    `json:"ip_address"`
		UserAgent string    `json:"user_agent"`
	}
	if err := c.do(http.MethodGet, "/auth/sessions", nil, &sessions); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tIP\tCREATED\tEXPIRES\tUSER AGENT")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.SessionID, s.IPAddress,
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.ExpiresAt.Format("2006-01-02 15:04"),
			s.UserAgent)
	}
	return w.Flush()
}

func cmdAudit(c *client, args []string) error {
	path := "/admin/audit"
	if len(args) > 0 {
		path += "?limit=" + args[0]
	}

	var entries []struct {
		Actor     string    `json:"actor"`
		Action    string    `json:"action"`
		Target    string    `json:"target"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.do(http.MethodGet, path, nil, &entries); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTOR\tACTION\tTARGET")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.Target)
	}
	return w.Flush()
}
