// Package httpapi exposes the webhook and operational endpoints. The hook
// handler always answers 200: the chat platform retries non-2xx responses,
// and retries are already covered by the dedup ledger, so surfacing an
// internal failure to the platform only multiplies deliveries.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetworks/invoicebot/internal/intake"
	"github.com/fleetworks/invoicebot/internal/journal"
	"github.com/fleetworks/invoicebot/internal/relay"
	"github.com/fleetworks/invoicebot/internal/telegram"
	"github.com/fleetworks/invoicebot/internal/writer"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Bot is the slice of the chat client the server sends through.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup any) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
}

// StatsProvider summarizes stored entries for the periodic digests.
type StatsProvider interface {
	Totals(ctx context.Context) (writer.Stats, error)
}

// StorageProber checks that the file store's public surface is reachable
// without writing anything.
type StorageProber interface {
	Probe(ctx context.Context) error
}

// ServerDeps wires the server's collaborators. Stats, Writer, Destination
// and Prober are optional; absent ones simply drop the checks and digests
// that need them.
type ServerDeps struct {
	Engine      *intake.Engine
	Bot         Bot
	Ledger      intake.DedupLedger
	Journal     *journal.Journal
	Stats       StatsProvider
	Writer      intake.EntryWriter
	Destination relay.Destination
	Prober      StorageProber
}

type ServerConfig struct {
	WebhookSecret  string
	MaxBodyBytes   int64
	ReportChatID   int64
	ReportThreadID int64
	DashboardURL   string

	// Wiring summarizes which optional components are configured; it is
	// reported verbatim on /debug.
	Wiring map[string]bool
}

type Server struct {
	engine      *intake.Engine
	bot         Bot
	ledger      intake.DedupLedger
	journal     *journal.Journal
	stats       StatsProvider
	writer      intake.EntryWriter
	destination relay.Destination
	prober      StorageProber
	cfg         ServerConfig
	now         func() time.Time
}

func NewServer(deps ServerDeps, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		engine:      deps.Engine,
		bot:         deps.Bot,
		ledger:      deps.Ledger,
		journal:     deps.Journal,
		stats:       deps.Stats,
		writer:      deps.Writer,
		destination: deps.Destination,
		prober:      deps.Prober,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/debug", s.handleDebug)
	r.Get("/self-test", s.handleSelfTest)
	r.Post("/hook", s.handleHook)
	r.Post("/cron/weekly", s.handleWeekly)
	r.Post("/cron/monthly", s.handleMonthly)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret != "" && r.Header.Get(secretTokenHeader) != s.cfg.WebhookSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized", "secret token mismatch")
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	update, err := telegram.ParseUpdate(body)
	if err != nil {
		s.journal.Capture(ctx, "hook/parse", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	seen, err := s.ledger.Seen(ctx, fmt.Sprintf("upd:%d", update.UpdateID))
	if err != nil {
		// a broken ledger must not stall intake; worst case is a duplicate
		// prompt, and the commit path dedups again on the business key
		s.journal.Capture(ctx, "hook/dedup", err)
	}
	if seen {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	s.dispatch(ctx, update)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) dispatch(ctx context.Context, update *telegram.Update) {
	in, ok := update.Inbound()
	if !ok {
		return
	}

	if cb := update.CallbackQuery; cb != nil {
		if err := s.bot.AnswerCallbackQuery(ctx, cb.ID); err != nil {
			s.journal.Capture(ctx, "hook/answer-callback", err)
		}
		// retire the inline keyboard so stale buttons cannot re-fire
		if cb.Message != nil && cb.Message.Text != "" {
			if err := s.bot.EditMessageText(ctx, in.ChatID, in.MessageID, cb.Message.Text, nil); err != nil {
				s.journal.Capture(ctx, "hook/retire-keyboard", err)
			}
		}
	}

	prompt, err := s.route(ctx, in)
	if err != nil {
		s.journal.Capture(ctx, "hook/engine", err)
		prompt = intake.Prompt{Text: "Something went wrong on our side. Please try again."}
	}
	if prompt.Text == "" {
		return
	}
	opts := &telegram.SendOptions{ReplyMarkup: telegram.InlineKeyboard(prompt.Choices)}
	if err := s.bot.SendMessage(ctx, in.ChatID, prompt.Text, opts); err != nil {
		s.journal.Capture(ctx, "hook/send", err)
	}
}

func (s *Server) route(ctx context.Context, in intake.Inbound) (intake.Prompt, error) {
	if text, ok := in.Event.(intake.TextInput); ok && strings.HasPrefix(text.Text, "/") {
		command := strings.ToLower(strings.Fields(text.Text)[0])
		if at := strings.Index(command, "@"); at >= 0 {
			command = command[:at]
		}
		switch command {
		case "/start", "/new":
			return s.engine.Start(ctx, in)
		case "/cancel":
			return s.engine.Cancel(ctx, in.ChatID)
		case "/status":
			return s.engine.Status(ctx, in.ChatID)
		case "/dashboard":
			if s.cfg.DashboardURL == "" {
				return intake.Prompt{Text: "No dashboard is configured."}, nil
			}
			return intake.Prompt{Text: "Dashboard: " + s.cfg.DashboardURL}, nil
		default:
			return intake.Prompt{Text: "Commands: /new, /cancel, /status, /dashboard"}, nil
		}
	}
	return s.engine.Advance(ctx, in)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"wiring": s.cfg.Wiring,
		"errors": s.journal.Recent(5),
	}
	if s.prober != nil {
		if err := s.prober.Probe(r.Context()); err != nil {
			payload["storage"] = "error: " + err.Error()
		} else {
			payload["storage"] = "ok"
		}
	}
	if last := s.journal.Last(); last != nil {
		payload["lastError"] = last
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleSelfTest exercises the real pipeline end to end: a ledger round
// trip with a throwaway key, a probe object through the file destination,
// and a probe row through the write strategies. Probe writes use fixed
// names so repeated runs overwrite instead of accumulating.
func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := "selftest:" + uuid.NewString()
	checks := map[string]string{}
	pass := true

	seen, err := s.ledger.Seen(ctx, key)
	switch {
	case err != nil:
		checks["ledger"] = "error: " + err.Error()
		pass = false
	case seen:
		checks["ledger"] = "fresh key reported seen"
		pass = false
	default:
		if seen, err = s.ledger.Seen(ctx, key); err != nil || !seen {
			checks["ledger"] = fmt.Sprintf("repeat observation: seen=%v err=%v", seen, err)
			pass = false
		} else {
			checks["ledger"] = "ok"
		}
	}

	if s.destination != nil {
		url, err := s.destination.Upload(ctx, "selftest/probe.txt", "text/plain", []byte("probe"))
		switch {
		case err != nil:
			checks["storage"] = "error: " + err.Error()
			pass = false
		case url == "":
			checks["storage"] = "upload returned no url"
			pass = false
		default:
			checks["storage"] = url
		}
	}

	if s.writer != nil {
		probe := intake.Entry{
			Timestamp: s.now().UTC().Format(time.RFC3339),
			AssetType: "Truck",
			Repair:    "self-test probe",
			Reporter:  "self-test",
			MsgKey:    "selftest:probe",
		}
		if err := s.writer.Write(ctx, probe); err != nil {
			checks["rows"] = "error: " + err.Error()
			pass = false
		} else {
			checks["rows"] = "ok"
		}
	}

	if s.stats != nil {
		if _, err := s.stats.Totals(ctx); err != nil {
			checks["stats"] = "error: " + err.Error()
			pass = false
		} else {
			checks["stats"] = "ok"
		}
	}

	status := http.StatusOK
	if !pass {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"pass": pass, "checks": checks})
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	s.sendDigest(w, r, "Weekly maintenance digest")
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	if now.Month() == now.AddDate(0, 0, 1).Month() {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true, "reason": "not the last day of the month"})
		return
	}
	s.sendDigest(w, r, "Monthly maintenance digest")
}

func (s *Server) sendDigest(w http.ResponseWriter, r *http.Request, title string) {
	if s.cfg.ReportChatID == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true, "reason": "no report chat configured"})
		return
	}
	ctx := r.Context()
	lines := []string{title}
	if s.stats != nil {
		stats, err := s.stats.Totals(ctx)
		if err != nil {
			s.journal.Capture(ctx, "cron/stats", err)
			lines = append(lines, "Stats are unavailable right now.")
		} else {
			lines = append(lines,
				fmt.Sprintf("Last 7 days: %d entries, $%.2f", stats.WeekCount, stats.WeekTotal),
				fmt.Sprintf("This month: %d entries, $%.2f", stats.MonthCount, stats.MonthTotal))
		}
	}
	if s.cfg.DashboardURL != "" {
		lines = append(lines, "Dashboard: "+s.cfg.DashboardURL)
	}

	opts := &telegram.SendOptions{MessageThreadID: s.cfg.ReportThreadID}
	if err := s.bot.SendMessage(ctx, s.cfg.ReportChatID, strings.Join(lines, "\n"), opts); err != nil {
		s.journal.Capture(ctx, "cron/send", err)
		writeError(w, http.StatusBadGateway, "send_failed", "digest delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
