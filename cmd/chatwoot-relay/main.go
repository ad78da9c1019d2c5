// ABOUTME: Entry point for the chatwoot-relay server
// ABOUTME: Serves the relay, writes a starter config and checks a running instance

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/chatwoot-relay/internal/config"
	"github.com/2389/chatwoot-relay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _           _                     _                   _
  ___| |__   __ _| |___      _____   ___ | |_   _ __ ___| | __ _ _   _
 / __| '_ \ / _' | __\ \ /\ / / _ \ / _ \| __| | '__/ _ \ |/ _' | | | |
| (__| | | | (_| | |_ \ V  V / (_) | (_) | |_  | | |  __/ | (_| | |_| |
 \___|_| |_|\__,_|\__| \_/\_/ \___/ \___/ \__| |_|  \___|_|\__,_|\__, |
                                                                 |___/
`

var (
	configFlag string
	envFile    string
)

// configPath returns the config file to read.
// Priority: --config flag > RELAY_CONFIG env var > XDG_CONFIG_HOME/chatwoot-relay/relay.yaml
func configPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatwoot-relay", "relay.yaml")
}

// loadConfig reads the config file, or builds the config from the environment
// when there is none.
func loadConfig() (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || configFlag != "" {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	cfg, err = config.FromEnv()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, "(environment)", nil
}

func main() {
	root := &cobra.Command{
		Use:           "chatwoot-relay",
		Short:         "Relay Chatwoot conversations to browser chat widgets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal in production.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to relay.yaml (default: $RELAY_CONFIG or ~/.config/chatwoot-relay/relay.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading config")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(agentsCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Stream:    %s", cfg.Stream.Mode)
	if cfg.Stream.Mode == config.StreamModeHub && cfg.Stream.BootstrapPoll {
		gray.Print(" (bootstrap polling)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Chatwoot:  ")
	if missing := cfg.Chatwoot.Missing(); len(missing) > 0 {
		yellow.Printf("missing %s\n", strings.Join(missing, ", "))
	} else {
		cyan.Println(cfg.Chatwoot.BaseURL)
	}
	if cfg.Chatwoot.WebhookToken == "" {
		green.Print("    ▶ ")
		yellow.Println("Webhooks:  unsigned deliveries accepted")
	}

	fmt.Println()

	logger.Info("starting chatwoot-relay",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"stream_mode", cfg.Stream.Mode,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{mu: &sync.Mutex{}, out: os.Stdout, level: level})
}

// colorHandler writes one colorized line per record.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

func healthCmd() *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			path := "/health"
			if ready {
				path = "/health/ready"
			}
			url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}

			fmt.Println(strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (store reachable) instead of liveness")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(configPath(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

const starterConfig = `# chatwoot-relay configuration
# Generated by chatwoot-relay init
# CHATWOOT_* and RELAY_* environment variables override these values.

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

chatwoot:
  base_url: "${CHATWOOT_BASE_URL}"
  account_id: "${CHATWOOT_ACCOUNT_ID}"
  api_token: "${CHATWOOT_API_TOKEN}"
  webhook_token: "${CHATWOOT_WEBHOOK_TOKEN}"
  request_timeout: "30s"

stream:
  mode: "hub"
  bootstrap_poll: true
  lease: "280s"
  drain_grace: "250ms"
  ping_interval: "25s"
  message_poll_interval: "1500ms"
  label_poll_interval: "8s"

cache:
  max_entries: 10000
  ttl: "30m"

auth:
  stream_token_secret: "%s"
  stream_token_ttl: "10m"

ratelimit:
  rps: 5
  burst: 10
  # Key clients by X-Forwarded-For only behind a proxy you control.
  trust_proxy: false

email_validation:
  url: "https://rapid-email-verifier.fly.dev"
  timeout: "10s"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating stream token secret: %w", err)
	}

	dbPath := filepath.Join(dataDir(), "relay.db")
	content := fmt.Sprintf(starterConfig, dbPath, base64.StdEncoding.EncodeToString(secret))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", path)
	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Println("    chatwoot-relay serve")
	return nil
}

// dataDir returns the relay data directory.
// Priority: XDG_DATA_HOME/chatwoot-relay > ~/.local/share/chatwoot-relay
func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dir, "chatwoot-relay")
}
