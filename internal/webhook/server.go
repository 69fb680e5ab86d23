// Package webhook is the HTTP surface: channel webhooks, health, metrics and
// a small bearer-protected admin API.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/deskmate/actions"
	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/metrics"
	"github.com/quailyquaily/deskmate/pipeline"
	"github.com/quailyquaily/deskmate/store"
)

const (
	HeaderTelegramSecret    = "X-Telegram-Bot-Api-Secret-Token"
	HeaderWhatsAppSignature = "X-Hub-Signature-256"

	defaultMaxBodyBytes = 1 << 20
)

type BusinessResolver interface {
	BusinessBySlug(ctx context.Context, slug string) (models.Business, bool, error)
}

type InboundEnqueuer interface {
	Enqueue(ctx context.Context, job pipeline.InboundJob) (string, error)
}

type ActionUpdater interface {
	UpdateStatus(ctx context.Context, actionID uint, to actions.Status, notes string) (models.ClientAction, error)
}

type Options struct {
	Businesses BusinessResolver
	Inbound    InboundEnqueuer
	// Actions enables the admin action routes when set.
	Actions ActionUpdater
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	WhatsAppVerifyToken string
	WhatsAppAppSecret   string
	// AuthToken protects /admin routes. Admin routes are disabled when empty.
	AuthToken    string
	MaxBodyBytes int64
	Now          func() time.Time
}

type Server struct {
	businesses  BusinessResolver
	inbound     InboundEnqueuer
	actions     ActionUpdater
	metrics     *metrics.Metrics
	logger      *slog.Logger
	verifyToken string
	appSecret   string
	authToken   string
	maxBody     int64
	nowFn       func() time.Time
}

func New(opts Options) (*Server, error) {
	if opts.Businesses == nil {
		return nil, fmt.Errorf("business resolver is required")
	}
	if opts.Inbound == nil {
		return nil, fmt.Errorf("inbound queue is required")
	}
	s := &Server{
		businesses:  opts.Businesses,
		inbound:     opts.Inbound,
		actions:     opts.Actions,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		verifyToken: strings.TrimSpace(opts.WhatsAppVerifyToken),
		appSecret:   strings.TrimSpace(opts.WhatsAppAppSecret),
		authToken:   strings.TrimSpace(opts.AuthToken),
		maxBody:     opts.MaxBodyBytes,
		nowFn:       opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":   true,
			"time": s.nowFn().Format(time.RFC3339Nano),
		})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("POST /webhooks/telegram/{slug}", s.handleTelegram)
	mux.HandleFunc("GET /webhooks/whatsapp/{slug}", s.handleWhatsAppVerify)
	mux.HandleFunc("POST /webhooks/whatsapp/{slug}", s.handleWhatsApp)
	if s.actions != nil && s.authToken != "" {
		mux.HandleFunc("POST /admin/actions/{id}/status", s.requireAuth(s.handleActionStatus))
	}
	return mux
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	business, ok := s.resolve(w, r, bus.PlatformTelegram)
	if !ok {
		return
	}
	if secret := strings.TrimSpace(business.TelegramWebhookSecret); secret != "" {
		got := r.Header.Get(HeaderTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.logger.Warn("webhook_secret_mismatch", "platform", "telegram", "business_id", business.ID)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.accept(w, r, business, bus.PlatformTelegram, body)
}

func (s *Server) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(q.Get("hub.verify_token")), []byte(s.verifyToken)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	business, ok := s.resolve(w, r, bus.PlatformWhatsApp)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if s.appSecret != "" && !ValidSignature(s.appSecret, body, r.Header.Get(HeaderWhatsAppSignature)) {
		s.logger.Warn("webhook_signature_invalid", "platform", "whatsapp", "business_id", business.ID)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.accept(w, r, business, bus.PlatformWhatsApp, body)
}

// resolve looks the business up by slug. Unknown and inactive businesses are
// acknowledged with 200 so the channel does not redeliver.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, platform bus.Platform) (models.Business, bool) {
	slug := strings.TrimSpace(r.PathValue("slug"))
	business, found, err := s.businesses.BusinessBySlug(r.Context(), slug)
	if err != nil {
		s.logger.Error("webhook_business_lookup_failed", "platform", string(platform), "slug", slug, "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return models.Business{}, false
	}
	if !found || !business.IsActive {
		s.logger.Warn("webhook_business_unavailable", "platform", string(platform), "slug", slug, "found", found)
		s.metrics.ObserveInbound(string(platform), "skipped")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return models.Business{}, false
	}
	return business, true
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request, business models.Business, platform bus.Platform, body []byte) {
	id, err := s.inbound.Enqueue(r.Context(), pipeline.InboundJob{
		BusinessID: business.ID,
		Platform:   platform,
		Payload:    body,
		ReceivedAt: s.nowFn().UTC(),
	})
	if err != nil {
		s.logger.Error("webhook_enqueue_failed", "platform", string(platform), "business_id", business.ID, "error", err.Error())
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.logger.Debug("webhook_accepted", "platform", string(platform), "business_id", business.ID, "job_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (s *Server) handleActionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid action id", http.StatusBadRequest)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	to, ok := actions.ParseStatus(req.Status)
	if !ok {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	updated, err := s.actions.UpdateStatus(r.Context(), uint(id), to, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "action not found", http.StatusNotFound)
			return
		case errors.Is(err, actions.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.logger.Error("admin_action_status_failed", "action_id", id, "error", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        updated.ID,
		"reference": updated.Reference,
		"status":    updated.Status,
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(r, s.authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func checkAuth(r *http.Request, token string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	want := "Bearer " + strings.TrimSpace(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ValidSignature checks a "sha256=<hex>" HMAC of body.
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
