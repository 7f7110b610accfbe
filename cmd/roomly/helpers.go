package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	roomly "github.com/roomly-app/roomly/sdk/golang"
)

// settings is the effective configuration a command runs with.
type settings struct {
	cfg   *Config
	creds roomly.Credentials
	log   *slog.Logger
}

// loadSettings reads the config and checks the token.
func loadSettings() (*settings, error) {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	creds := roomly.ParseCredentials(cfg.Default.Token)
	if err := creds.Validate(time.Now()); err != nil {
		return nil, fmt.Errorf("%w (run 'roomly init <token>' or set ROOMLY_TOKEN)", err)
	}
	level := cfg.Default.LogLevel
	if level == "" {
		level = "WARN"
	}
	return &settings{cfg: cfg, creds: creds, log: logs.GetLoggerFromString(level)}, nil
}

// newClient builds the HTTP client for the configured environment.
func (s *settings) newClient() *roomly.Client {
	opts := []roomly.ClientOption{roomly.WithLogger(s.log)}
	if s.cfg.Default.BaseURL != "" {
		opts = append(opts, roomly.WithBaseURL(s.cfg.Default.BaseURL))
	} else if s.cfg.Default.Environment != "" {
		opts = append(opts, roomly.WithEnvironment(roomly.Environment(s.cfg.Default.Environment)))
	}
	return roomly.NewClient(s.creds.Token, opts...)
}

// newSession opens a session bound to the configured identity. State is
// persisted under storage.data_dir when set. The caller must Close it.
func (s *settings) newSession() (*roomly.Session, error) {
	client := s.newClient()
	cfg := roomly.SessionConfig{Logger: s.log}
	if dir := s.cfg.Storage.DataDir; dir != "" {
		storage, err := roomly.OpenBadgerStorage(dir, s.log)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		cfg.Storage = storage
	}
	session := roomly.NewSession(client,
		roomly.NewWebSocketTransport(client.BaseURL(), &roomly.RealtimeConfig{Logger: s.log}), cfg)
	if err := session.Restore(); err != nil {
		s.log.Warn("Failed to restore local state", "error", err)
	}
	session.Identify(s.creds)
	return session, nil
}

// withSession runs fn against a fresh session and closes it afterwards.
func withSession(fn func(*settings, *roomly.Session) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	session, err := s.newSession()
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.log.Warn("Failed to close session", "error", err)
		}
	}()
	return fn(s, session)
}

// ============================================================================
// Output
// ============================================================================

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

func success(s string) string { return color.New(color.FgGreen).Render(s) }
func warning(s string) string { return color.New(color.FgYellow).Render(s) }
func failure(s string) string { return color.New(color.FgRed).Render(s) }

func yesNo(b bool) string {
	if b {
		return success("yes")
	}
	return "no"
}

// maskKey shows the first 8 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// formatAmount renders minor units as a decimal amount.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
