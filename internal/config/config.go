// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	FileDestBucket = "bucket"
	FileDestDrive  = "drive"
)

type Config struct {
	BotToken      string `env:"BOT_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	Addr          string `env:"ADDR" envDefault:":8080"`

	StoreDSN   string        `env:"STORE_DSN" envDefault:"memory://"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"6h"`
	DedupTTL   time.Duration `env:"DEDUP_TTL" envDefault:"72h"`

	SupabaseURL    string `env:"SUPABASE_URL"`
	SupabaseKey    string `env:"SUPABASE_KEY"`
	SupabaseBucket string `env:"SUPABASE_BUCKET" envDefault:"invoices"`
	SupabaseTable  string `env:"SUPABASE_TABLE" envDefault:"expenses"`

	EntriesDSN string `env:"ENTRIES_DSN"`

	GoogleClientEmail string `env:"GOOGLE_CLIENT_EMAIL"`
	GooglePrivateKey  string `env:"GOOGLE_PRIVATE_KEY"`
	DriveFolderID     string `env:"DRIVE_FOLDER_ID"`

	FileDest string `env:"FILE_DEST" envDefault:"bucket"`

	ReportChatID   int64  `env:"REPORT_CHAT_ID"`
	ReportThreadID int64  `env:"REPORT_THREAD_ID"`
	DashboardURL   string `env:"DASHBOARD_URL"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	switch c.FileDest {
	case FileDestBucket:
		if !c.SupabaseConfigured() {
			return fmt.Errorf("FILE_DEST=bucket requires SUPABASE_URL, SUPABASE_KEY and SUPABASE_BUCKET")
		}
	case FileDestDrive:
		if strings.TrimSpace(c.GoogleClientEmail) == "" ||
			strings.TrimSpace(c.GooglePrivateKey) == "" ||
			strings.TrimSpace(c.DriveFolderID) == "" {
			return fmt.Errorf("FILE_DEST=drive requires GOOGLE_CLIENT_EMAIL, GOOGLE_PRIVATE_KEY and DRIVE_FOLDER_ID")
		}
	default:
		return fmt.Errorf("FILE_DEST must be %q or %q, got %q", FileDestBucket, FileDestDrive, c.FileDest)
	}
	if !c.SupabaseRowsConfigured() && strings.TrimSpace(c.EntriesDSN) == "" {
		return fmt.Errorf("no write strategy configured: set SUPABASE_URL/SUPABASE_KEY/SUPABASE_TABLE or ENTRIES_DSN")
	}
	return nil
}

// SupabaseConfigured reports whether the storage bucket side is usable.
func (c Config) SupabaseConfigured() bool {
	return strings.TrimSpace(c.SupabaseURL) != "" &&
		strings.TrimSpace(c.SupabaseKey) != "" &&
		strings.TrimSpace(c.SupabaseBucket) != ""
}

// SupabaseRowsConfigured reports whether the REST row table is usable.
func (c Config) SupabaseRowsConfigured() bool {
	return strings.TrimSpace(c.SupabaseURL) != "" &&
		strings.TrimSpace(c.SupabaseKey) != "" &&
		strings.TrimSpace(c.SupabaseTable) != ""
}

// DriveConfigured reports whether the Drive destination is usable.
func (c Config) DriveConfigured() bool {
	return strings.TrimSpace(c.GoogleClientEmail) != "" &&
		strings.TrimSpace(c.GooglePrivateKey) != "" &&
		strings.TrimSpace(c.DriveFolderID) != ""
}
