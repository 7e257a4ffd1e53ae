// ABOUTME: Entry point for the pllm-gateway authentication server
// ABOUTME: Owns startup wiring: config, key material, stores, HTTP surface

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/privatellm/pllm-gateway/internal/audit"
	"github.com/privatellm/pllm-gateway/internal/auth"
	"github.com/privatellm/pllm-gateway/internal/config"
	"github.com/privatellm/pllm-gateway/internal/cryptofile"
	"github.com/privatellm/pllm-gateway/internal/httpapi"
	"github.com/privatellm/pllm-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _ _
  _ __ | | |_ __ ___         __ _  __ _| |_ _____      ____ _ _   _
 | '_ \| | | '_ ' _ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) | | | | | | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 | .__/|_|_|_| |_| |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
 |_|                        |___/                             |___/
`

const sweepInterval = 5 * time.Minute

// getConfigPath returns the path to the gateway config file.
// Priority: PLLM_CONFIG env var > XDG_CONFIG_HOME/pllm/gateway.yaml > ~/.config/pllm/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PLLM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pllm", "gateway.yaml")
}

// getDataPath returns the path to the pllm data directory.
// Priority: XDG_DATA_HOME/pllm > ~/.local/share/pllm
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "pllm")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pllm-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the authentication gateway")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = config.Default(getDataPath())
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Data:   %s\n", cfg.Data.Dir)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	if err := os.MkdirAll(cfg.Data.Dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Key material is created on first run and never regenerated after.
	storeKey, err := cryptofile.LoadOrCreateKey(filepath.Join(cfg.Data.Dir, ".auth_key"))
	if err != nil {
		return fmt.Errorf("loading store key: %w", err)
	}
	jwtSecret, err := cryptofile.LoadOrCreateSecret(filepath.Join(cfg.Data.Dir, ".jwt_secret"))
	if err != nil {
		return fmt.Errorf("loading jwt secret: %w", err)
	}

	users, err := store.OpenUserStore(filepath.Join(cfg.Data.Dir, "users.enc"), storeKey)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	sessions, err := store.OpenSessionStore(filepath.Join(cfg.Data.Dir, "sessions.enc"), storeKey)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer auditLog.Close()
	}

	tokens := auth.NewTokenService([]byte(jwtSecret), cfg.Auth.TokenTTL, users)
	svc := auth.NewService(users, sessions, tokens, auditLog, auth.Options{
		SessionTTL:       cfg.Auth.SessionTTL,
		DefaultRateLimit: cfg.Auth.DefaultRateLimit,
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutWindow:    cfg.Auth.LockoutWindow,
		RateWindow:       cfg.Auth.RateWindow,
		StrictSessionIP:  cfg.Auth.StrictSessionIP,
	})

	result, err := svc.Bootstrap(cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrapping admin account: %w", err)
	}
	if result != nil {
		printBootstrap(result)
	}

	server := httpapi.New(cfg.Server.HTTPAddr, svc)

	go svc.RunSessionSweeper(ctx, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("pllm-gateway started", "http_addr", cfg.Server.HTTPAddr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// printBootstrap surfaces first-run admin credentials. The password is
// displayed here once and is not recoverable afterwards.
func printBootstrap(result *auth.BootstrapResult) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Println("  First run: created admin account")
	fmt.Printf("    Username: %s\n", result.Username)
	if result.PasswordGenerated {
		fmt.Printf("    Password: %s\n", result.Password)
	}
	fmt.Printf("    API key:  %s\n", result.APIKey)
	fmt.Println()
	yellow.Println("  Store these now; they will not be shown again.")
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`# pllm-gateway configuration
# Generated by pllm-gateway init

server:
  http_addr: "127.0.0.1:8080"

data:
  dir: "%s"

auth:
  # Leave empty to generate a random admin password on first run
  admin_password: "${PLLM_ADMIN_PASSWORD}"
  session_ttl: "24h"
  token_ttl: "24h"
  default_rate_limit: 100
  lockout_threshold: 5
  lockout_window: "1h"
  strict_session_ip: false

audit:
  enabled: true

logging:
  level: "info"
  format: "text"
`, dataPath)

	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nTo start the server:")
	fmt.Println("  pllm-gateway serve")
	return nil
}
