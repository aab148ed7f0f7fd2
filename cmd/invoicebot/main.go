package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/fleetworks/invoicebot/internal/config"
	"github.com/fleetworks/invoicebot/internal/gdrive"
	"github.com/fleetworks/invoicebot/internal/httpapi"
	"github.com/fleetworks/invoicebot/internal/intake"
	"github.com/fleetworks/invoicebot/internal/journal"
	"github.com/fleetworks/invoicebot/internal/kvstore"
	"github.com/fleetworks/invoicebot/internal/relay"
	"github.com/fleetworks/invoicebot/internal/supabase"
	"github.com/fleetworks/invoicebot/internal/telegram"
	"github.com/fleetworks/invoicebot/internal/writer"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	store, err := kvstore.BuildFromDSN(cfg.StoreDSN, kvstore.Options{
		SessionTTL: cfg.SessionTTL,
		DedupTTL:   cfg.DedupTTL,
	})
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}
	defer func() { _ = store.Close() }()

	jrnl := journal.New(logger)
	bot := telegram.NewClient(telegram.ClientOptions{Token: cfg.BotToken})

	var supa *supabase.Client
	if cfg.SupabaseConfigured() || cfg.SupabaseRowsConfigured() {
		supa, err = supabase.NewClient(supabase.ClientOptions{
			BaseURL: cfg.SupabaseURL,
			Key:     cfg.SupabaseKey,
			Table:   cfg.SupabaseTable,
			Bucket:  cfg.SupabaseBucket,
		})
		if err != nil {
			log.Fatalf("failed to initialize supabase client: %v", err)
		}
	}

	destination, err := buildDestination(cfg, supa)
	if err != nil {
		log.Fatalf("failed to initialize file destination: %v", err)
	}
	fileRelay := relay.New(relay.Options{
		Source:      bot,
		Destination: destination,
		Journal:     jrnl,
	})

	var strategies []writer.Strategy
	var stats httpapi.StatsProvider
	if cfg.SupabaseRowsConfigured() {
		strategies = append(strategies, writer.SupabaseStrategy{Client: supa})
	}
	if cfg.EntriesDSN != "" {
		pg, err := writer.NewPostgresStrategy(cfg.EntriesDSN)
		if err != nil {
			log.Fatalf("failed to initialize postgres strategy: %v", err)
		}
		defer func() { _ = pg.Close() }()
		strategies = append(strategies, pg)
		stats = pg
	}
	entryWriter, err := writer.New(writer.Options{Strategies: strategies, Journal: jrnl})
	if err != nil {
		log.Fatalf("failed to initialize entry writer: %v", err)
	}

	engine := intake.NewEngine(intake.EngineOptions{
		Sessions: store,
		Ledger:   store,
		Relay:    fileRelay,
		Writer:   entryWriter,
		Journal:  jrnl,
	})

	deps := httpapi.ServerDeps{
		Engine:      engine,
		Bot:         bot,
		Ledger:      store,
		Journal:     jrnl,
		Stats:       stats,
		Writer:      entryWriter,
		Destination: destination,
	}
	if supa != nil && cfg.SupabaseConfigured() {
		deps.Prober = supa
	}

	server := httpapi.NewServer(deps, httpapi.ServerConfig{
		WebhookSecret:  cfg.WebhookSecret,
		ReportChatID:   cfg.ReportChatID,
		ReportThreadID: cfg.ReportThreadID,
		DashboardURL:   cfg.DashboardURL,
		Wiring: map[string]bool{
			"supabaseRows":   cfg.SupabaseRowsConfigured(),
			"supabaseBucket": cfg.SupabaseConfigured(),
			"drive":          cfg.DriveConfigured(),
			"entriesDB":      cfg.EntriesDSN != "",
			"webhookSecret":  cfg.WebhookSecret != "",
			"reportChat":     cfg.ReportChatID != 0,
		},
	})

	logger.Info("invoicebot listening", "addr", cfg.Addr, "fileDest", cfg.FileDest, "storeDSN", cfg.StoreDSN)
	if err := http.ListenAndServe(cfg.Addr, server.Router()); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildDestination(cfg config.Config, supa *supabase.Client) (relay.Destination, error) {
	if cfg.FileDest == config.FileDestDrive {
		tokens, err := gdrive.NewTokenSource(gdrive.TokenSourceOptions{
			ClientEmail: cfg.GoogleClientEmail,
			PrivateKey:  cfg.GooglePrivateKey,
		})
		if err != nil {
			return nil, err
		}
		folder, err := gdrive.NewFolder(gdrive.FolderOptions{
			Tokens:   tokens,
			FolderID: cfg.DriveFolderID,
		})
		if err != nil {
			return nil, err
		}
		return relay.DriveDestination{Folder: folder}, nil
	}
	return relay.BucketDestination{Client: supa}, nil
}
