// ABOUTME: Entry point for the lawbuddy chat server
// ABOUTME: Serves the realtime traffic-law assistant over websockets

package main

import (
	"context"
	"fmt"
	"io"
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

	"github.com/Dacosmicgiant/LawBuddy/internal/auth"
	"github.com/Dacosmicgiant/LawBuddy/internal/chat"
	"github.com/Dacosmicgiant/LawBuddy/internal/config"
	"github.com/Dacosmicgiant/LawBuddy/internal/engine"
	"github.com/Dacosmicgiant/LawBuddy/internal/generation"
	"github.com/Dacosmicgiant/LawBuddy/internal/hub"
	"github.com/Dacosmicgiant/LawBuddy/internal/server"
	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _               ____            _     _
| | __ ___      _| __ ) _   _  __| | __| |_   _
| |/ _' \ \ /\ / /  _ \| | | |/ _' |/ _' | | | |
| | (_| |\ V  V /| |_) | |_| | (_| | (_| | |_| |
|_|\__,_| \_/\_/ |____/ \__,_|\__,_|\__,_|\__, |
                                          |___/
`

// getConfigPath returns the path to the config file.
// Priority: LAWBUDDY_CONFIG env var > ./config.yaml > ~/.config/lawbuddy/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LAWBUDDY_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "lawbuddy", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: lawbuddy <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the chat server")
		fmt.Println("  token --user ID      Mint a development access token")
		fmt.Println("  health               Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken()
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
	// Local overrides for development; absence is not an error
	_ = godotenv.Load()

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
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Gemini.Model)
	fmt.Println()

	logger.Info("starting lawbuddy",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	eng, err := engine.NewGemini(ctx, engine.GeminiConfig{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		MaxTokens:   cfg.Gemini.MaxTokens,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if !eng.IsAvailable() {
		logger.Warn("gemini api key not configured, generation disabled")
	}

	chatSvc := chat.NewService(st, logger)
	h := hub.New(logger)
	orch := generation.NewOrchestrator(chatSvc, eng, h, generation.Config{
		LeaseDuration:  cfg.Generation.LeaseDuration,
		LeaseHeartbeat: cfg.Generation.LeaseHeartbeat,
		StreamTimeout:  cfg.Generation.StreamTimeout,
		NonStreaming:   cfg.Generation.StreamingDisabled,
	}, logger)

	srv := server.New(server.Config{
		Addr:            cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		HistoryWindow:   cfg.Generation.HistoryWindow,
	}, chatSvc, orch, h, eng, auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), logger)

	return srv.Run(ctx)
}

// runToken mints a signed development token using the configured secret.
func runToken() error {
	_ = godotenv.Load()

	userID := ""
	name := ""
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user":
			if i+1 < len(args) {
				i++
				userID = args[i]
			}
		case "--name":
			if i+1 < len(args) {
				i++
				name = args[i]
			}
		}
	}
	if userID == "" {
		return fmt.Errorf("token requires --user ID")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(auth.Identity{UserID: userID, Name: name}, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	_ = godotenv.Load()

	addr := ":8080"
	if cfg, err := config.Load(getConfigPath()); err == nil {
		addr = cfg.Server.HTTPAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz/ready", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: %s", strings.TrimSpace(string(body)))
	}
	fmt.Printf("ready: %s\n", strings.TrimSpace(string(body)))
	return nil
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
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

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

	// Handler-level attrs from WithAttrs come first
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	_, err := os.Stdout.WriteString(buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}
