// Package server exposes the HTTP surface: health, manual job triggers,
// and subscription management.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"medreg-notifier/pkg/medreg"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Store is the subscription persistence surface.
type Store interface {
	TokenFromEmail(email string) string
	LoadRecipientByEmail(ctx context.Context, email string) (*medreg.Recipient, error)
	LoadRecipientByToken(ctx context.Context, token string) (*medreg.Recipient, error)
	SaveRecipient(ctx context.Context, rcpt *medreg.Recipient) error
}

// Emailer sends subscription confirmations.
type Emailer interface {
	SendWelcome(ctx context.Context, rcpt *medreg.Recipient) error
}

// Trigger runs a scheduled job out of band.
type Trigger func(ctx context.Context, id string) error

// IsNotFound classifies storage lookup misses.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	store      Store
	emailer    Emailer
	trigger    Trigger
	isNotFound IsNotFound
	logger     *slog.Logger
}

// Config holds server dependencies. Emailer may be nil when no mail
// transport is configured.
type Config struct {
	Store      Store
	Emailer    Emailer
	Trigger    Trigger
	IsNotFound IsNotFound
	Logger     *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		store:      cfg.Store,
		emailer:    cfg.Emailer,
		trigger:    cfg.Trigger,
		isNotFound: cfg.IsNotFound,
		logger:     cfg.Logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handleTrigger("poll"))
	mux.HandleFunc("/digestz", s.handleTrigger("digest"))
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	return mux
}

// Run starts the server with conservative timeouts and shuts it down
// gracefully when ctx is canceled.
func (s *Server) Run(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// handleTrigger kicks off a scheduled job immediately. The response
// returns as soon as the run is queued.
func (s *Server) handleTrigger(jobID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s.logger.Info("Manual job trigger", "job", jobID)

		if err := s.trigger(r.Context(), jobID); err != nil {
			s.logger.Error("Job trigger failed", "job", jobID, "error", err)
			http.Error(w, "Trigger failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if _, err := fmt.Fprintf(w, `{"status":"triggered","job":%q}`, jobID); err != nil {
			s.logger.Warn("Failed to write response", "error", err)
		}
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(strings.ToLower(r.FormValue("email")))
	if !isValidEmail(email) {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	interests := parseInterests(r.FormValue("interests"))

	rcpt, err := s.store.LoadRecipientByEmail(r.Context(), email)
	switch {
	case err == nil:
		// Existing subscriber: update preferences and reactivate
		rcpt.Name = name
		rcpt.Interests = interests
		rcpt.Active = true
	case s.isNotFound(err):
		rcpt = &medreg.Recipient{
			CreatedAt: time.Now().UTC(),
			Email:     email,
			Name:      name,
			Token:     s.store.TokenFromEmail(email),
			Interests: interests,
			Active:    true,
		}
	default:
		s.logger.Error("Subscription lookup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := s.store.SaveRecipient(r.Context(), rcpt); err != nil {
		s.logger.Error("Subscription save failed", "email", email, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Recipient subscribed", "email", email, "interests", len(interests))

	if s.emailer != nil {
		if err := s.emailer.SendWelcome(r.Context(), rcpt); err != nil {
			s.logger.Warn("Welcome email failed", "email", email, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"subscribed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	rcpt, err := s.store.LoadRecipientByToken(r.Context(), token)
	if err != nil {
		if s.isNotFound(err) {
			http.Error(w, "Unknown subscription", http.StatusNotFound)
			return
		}
		s.logger.Error("Unsubscribe lookup failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rcpt.Active = false
	if err := s.store.SaveRecipient(r.Context(), rcpt); err != nil {
		s.logger.Error("Unsubscribe save failed", "email", rcpt.Email, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Recipient unsubscribed", "email", rcpt.Email)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "You have been unsubscribed."); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

func parseInterests(raw string) []string {
	var interests []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			interests = append(interests, part)
		}
	}
	return interests
}
