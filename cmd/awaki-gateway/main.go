// ABOUTME: Entry point for awaki-gateway, the farmer advisory messaging server
// ABOUTME: Provides serve, init, token, health and ready subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/awaki-gateway/internal/auth"
	"github.com/2389/awaki-gateway/internal/config"
	"github.com/2389/awaki-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _    _
   __ ___      ____ _| | _(_)
  / _' \ \ /\ / / _' | |/ / |
 | (_| |\ V  V / (_| |   <| |
  \__,_| \_/\_/ \__,_|_|\_\_|  gateway
`

const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: AWAKI_CONFIG env var > XDG_CONFIG_HOME/awaki/gateway.yaml > ~/.config/awaki/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AWAKI_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "awaki", "gateway.yaml")
}

// getDataPath returns the path to the awaki data directory.
// Priority: XDG_DATA_HOME/awaki > ~/.local/share/awaki
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "awaki")
}

func usage() {
	fmt.Println("Usage: awaki-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the gateway server")
	fmt.Println("  init                               Create a new config file interactively")
	fmt.Println("  token --operator NAME [--ttl 720h] Mint an operator API token")
	fmt.Println("  health                             Check gateway liveness")
	fmt.Println("  ready                              Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "help", "-h", "--help":
		usage()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	printBackend(green, yellow, "Vision:  ", cfg.VisionEnabled())
	printBackend(green, yellow, "Weather: ", cfg.WeatherEnabled())
	if cfg.Outbound.ReplyURL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Replies:  %s\n", cfg.Outbound.ReplyURL)
	}
	fmt.Println()

	logger.Info("starting awaki-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"vision", cfg.VisionEnabled(),
		"weather", cfg.WeatherEnabled(),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func printBackend(green, yellow *color.Color, label string, enabled bool) {
	green.Print("    ▶ ")
	fmt.Printf("%s ", label)
	if enabled {
		green.Println("enabled")
	} else {
		yellow.Println("disabled")
	}
}

// tokenArgs are the parsed flags of the token command
type tokenArgs struct {
	operator string
	ttl      time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value" forms.
func parseTokenArgs(args []string) (tokenArgs, error) {
	out := tokenArgs{ttl: defaultTokenTTL}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--operator", "-o", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		if name == "--ttl" {
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return out, fmt.Errorf("--ttl must be a positive duration, got %q", value)
			}
			out.ttl = d
		} else {
			out.operator = strings.TrimSpace(value)
		}
	}

	if out.operator == "" {
		return out, fmt.Errorf("--operator flag is required")
	}
	if len(out.operator) > 100 {
		return out, fmt.Errorf("operator name exceeds maximum length of 100 characters")
	}
	return out, nil
}

// runToken mints an operator JWT for the read-only API and saves it next to
// the config file.
func runToken(args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for operator tokens)", configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(parsed.operator, parsed.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Saved token for %s: %s (expires %s)\n",
		parsed.operator, tokenPath, time.Now().Add(parsed.ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println()
	fmt.Println(token)
	return nil
}

// runProbe calls a health endpoint of a running gateway.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", probeAddr(cfg.Server.HTTPAddr), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// probeAddr turns a wildcard listen address into one a client can dial.
func probeAddr(listen string) string {
	if strings.HasPrefix(listen, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(listen, "0.0.0.0")
	}
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("awaki-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "awaki.db")
	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Backends ---")
	fmt.Println("Secrets are read from the environment when the gateway starts.")
	advisoryEnv := prompt(reader, "Env var holding the Anthropic API key", "ANTHROPIC_API_KEY")
	visionURL := prompt(reader, "Vision model URL (empty disables photo diagnosis)", "")
	weatherEnv := prompt(reader, "Env var holding the OpenWeather API key (empty disables weather)", "OPENWEATHER_API_KEY")

	fmt.Println("\n--- Delivery ---")
	replyURL := prompt(reader, "Reply relay URL (empty returns replies inline)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	jwtSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	webhookToken, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating webhook token: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# awaki-gateway configuration\n")
	cfg.WriteString("# Generated by awaki-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  webhook_token: %q\n", webhookToken))
	cfg.WriteString("  twilio_auth_token: \"${TWILIO_AUTH_TOKEN}\"\n\n")

	cfg.WriteString("backends:\n")
	cfg.WriteString("  advisory:\n")
	cfg.WriteString(fmt.Sprintf("    api_key: \"${%s}\"\n", advisoryEnv))
	if visionURL != "" {
		cfg.WriteString("  vision:\n")
		cfg.WriteString(fmt.Sprintf("    model_url: %q\n", visionURL))
		cfg.WriteString("    api_token: \"${HF_API_TOKEN}\"\n")
		cfg.WriteString("    media_username: \"${TWILIO_ACCOUNT_SID}\"\n")
		cfg.WriteString("    media_password: \"${TWILIO_AUTH_TOKEN}\"\n")
	}
	if weatherEnv != "" {
		cfg.WriteString("  weather:\n")
		cfg.WriteString(fmt.Sprintf("    api_key: \"${%s}\"\n", weatherEnv))
	}
	cfg.WriteString("\n")

	if replyURL != "" {
		cfg.WriteString("outbound:\n")
		cfg.WriteString(fmt.Sprintf("  reply_url: %q\n\n", replyURL))
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Contains generated secrets
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  awaki-gateway token --operator you   # mint an operator API token")
	fmt.Println("  awaki-gateway serve                  # start the server")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
