// ABOUTME: Entry point for handoff-bridge
// ABOUTME: Bridges a chat channel to Chatwoot with bot-to-human handoff

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/handoff-bridge/internal/auth"
	"github.com/2389/handoff-bridge/internal/config"
	"github.com/2389/handoff-bridge/internal/rag"
)

// version is set at build time.
var version = "dev"

const banner = `
 _                 _        __  __       _          _     _
| |__   __ _ _ __ | |_ ___ / _|/ _|     | |__  _ __(_) __| | __ _  ___
| '_ \ / _' | '_ \| __/ _ \ |_| |_ _____| '_ \| '__| |/ _' |/ _' |/ _ \
| | | | (_| | | | | || (_) |  _|  _|_____| |_) | |  | | (_| | (_| |  __/
|_| |_|\__,_|_| |_|\__\___/|_| |_|       |_.__/|_|  |_|\__,_|\__, |\___|
                                                             |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: handoff-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the bridge")
		fmt.Println("  check              Verify configuration and connectivity")
		fmt.Println("  health             Check a running bridge's health endpoint")
		fmt.Println("  token --sub NAME   Issue a bearer token for the debug endpoints")
		os.Exit(1)
	}

	loadDotEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck(ctx)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv loads .env from the working directory if present. Variables
// already set in the environment win.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Channel:   %s\n", cfg.Channel.Kind)
	green.Print("    ▶ ")
	fmt.Printf("Chatwoot:  ")
	if cfg.ChatwootEnabled() {
		fmt.Printf("%s (inbox %d)\n", cfg.Chatwoot.BaseURL, cfg.Chatwoot.InboxID)
	} else {
		yellow.Println("disabled")
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting handoff-bridge",
		"config", configPath,
		"channel", cfg.Channel.Kind,
		"http_addr", cfg.Server.HTTPAddr,
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// runCheck verifies the config and each configured remote dependency.
func runCheck(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(config.LoggingConfig{Level: "error"})

	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s config %s\n", ok("✓"), configPath)

	failed := false
	if cfg.ChatwootEnabled() {
		if client := connectChatwoot(ctx, cfg, logger); client != nil {
			fmt.Printf("%s chatwoot inbox %d reachable\n", ok("✓"), cfg.Chatwoot.InboxID)
		} else {
			fmt.Printf("%s chatwoot startup check failed\n", fail("✗"))
			failed = true
		}
	} else {
		fmt.Printf("%s chatwoot not configured, handoff disabled\n", warn("!"))
	}

	if cfg.RAG.Addr != "" {
		pipeline, err := rag.Dial(cfg.RAG.Addr, cfg.RAG.Timeout, logger)
		if err != nil {
			fmt.Printf("%s rag pipeline %s: %v\n", fail("✗"), cfg.RAG.Addr, err)
			failed = true
		} else {
			pingCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
			_, err := pipeline.Score(pingCtx, "ping", "ping")
			cancel()
			_ = pipeline.Close()
			if err != nil {
				fmt.Printf("%s rag pipeline %s: %v\n", fail("✗"), cfg.RAG.Addr, err)
				failed = true
			} else {
				fmt.Printf("%s rag pipeline %s\n", ok("✓"), cfg.RAG.Addr)
			}
		}
	} else {
		fmt.Printf("%s rag pipeline not configured, using fallback reply\n", warn("!"))
	}

	if _, err := newChannel(cfg, logger); err != nil {
		fmt.Printf("%s %s channel: %v\n", fail("✗"), cfg.Channel.Kind, err)
		failed = true
	} else {
		fmt.Printf("%s %s channel\n", ok("✓"), cfg.Channel.Kind)
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
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

// runToken issues a debug token. Supports "--sub value" and "--sub=value".
func runToken(args []string) error {
	var subject string
	var ttl time.Duration
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--sub" {
				subject = args[i+1]
			} else {
				d, err := time.ParseDuration(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --ttl: %w", err)
				}
				ttl = d
			}
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	signer, err := auth.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("auth.jwt_secret: %w", err)
	}
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}
	token, err := signer.Issue(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
