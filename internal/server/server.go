// Package server exposes the studio and wallet operations over HTTP for the
// browser client. One server instance hosts one studio session.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"stitch-studio/internal/gemini"
	"stitch-studio/internal/studio"
	"stitch-studio/internal/wallet"
)

const maxUploadBytes = 25 << 20

type Options struct {
	Wallet         *wallet.Manager
	Studio         *studio.Controller
	Logger         *slog.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type Server struct {
	wallet         *wallet.Manager
	studio         *studio.Controller
	logger         *slog.Logger
	requestTimeout time.Duration
	allowedOrigins []string

	noticeMu sync.Mutex
	notice   string
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Server{
		wallet:         opts.Wallet,
		studio:         opts.Studio,
		logger:         logger,
		requestTimeout: timeout,
		allowedOrigins: origins,
	}
}

// SetNotice stores the dismissible throttle banner; wire it as the studio
// OnNotice callback.
func (s *Server) SetNotice(text string) {
	s.noticeMu.Lock()
	s.notice = text
	s.noticeMu.Unlock()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.withLogging)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/session", s.handleSession)

		api.Route("/wallet", func(wr chi.Router) {
			wr.Post("/login", s.handleLogin)
			wr.Post("/signup", s.handleSignup)
			wr.Post("/sync", s.handleSync)
			wr.Post("/logout", s.handleLogout)
		})

		api.Route("/chat", func(cr chi.Router) {
			cr.Post("/submit", s.handleSubmit)
			cr.Post("/generate", s.handleGenerate)
			cr.Get("/messages", s.handleMessages)
			cr.Get("/suggestions", s.handleSuggestions)
		})

		api.Get("/notice", s.handleNotice)
		api.Delete("/notice", s.handleDismissNotice)
	})

	return r
}

type apiError struct {
	Error string `json:"error"`
}

type userResponse struct {
	WalletID string `json:"walletId"`
	Name     string `json:"name"`
	Coins    int    `json:"coins"`
}

type suggestionResponse struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Prompt    string `json:"prompt"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type guideShotResponse struct {
	Title string `json:"title"`
	Pose  string `json:"pose"`
	Angle string `json:"angle"`
	Why   string `json:"why"`
}

type guideResponse struct {
	Category string              `json:"category"`
	Shots    []guideShotResponse `json:"shots"`
}

type messageResponse struct {
	ID          string               `json:"id"`
	Role        string               `json:"role"`
	Text        string               `json:"text"`
	Time        time.Time            `json:"time"`
	Image       string               `json:"image,omitempty"`
	Generating  bool                 `json:"generating,omitempty"`
	Suggestions []suggestionResponse `json:"suggestions,omitempty"`
	Guide       *guideResponse       `json:"guide,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.wallet.CurrentUser()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	user, err := s.wallet.Login(r.Context(), req.Key)
	switch {
	case errors.Is(err, wallet.ErrUnknownKey):
		writeJSON(w, http.StatusNotFound, apiError{Error: "studio key not found in registry"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, apiError{Error: "cloud registry is temporarily unreachable"})
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string `json:"name"`
		Email            string `json:"email"`
		Phone            string `json:"phone"`
		BusinessCategory string `json:"businessCategory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	user, err := s.wallet.Signup(r.Context(), wallet.Profile{
		Name:             req.Name,
		Email:            req.Email,
		Phone:            req.Phone,
		BusinessCategory: req.BusinessCategory,
	})
	switch {
	case errors.Is(err, wallet.ErrIncompleteProfile):
		writeJSON(w, http.StatusBadRequest, apiError{Error: "name and email are required"})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, apiError{Error: "server busy, please try one more time"})
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.wallet.Sync(r.Context())

	user, ok := s.wallet.CurrentUser()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.wallet.Logout()
	s.studio.Reset()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	text := strings.TrimSpace(r.FormValue("text"))

	var image *gemini.ImageInput
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()

		raw, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read image"})
			return
		}
		image = &gemini.ImageInput{
			DataBase64: base64.StdEncoding.EncodeToString(raw),
			MimeType:   detectMime(header.Header.Get("Content-Type"), raw),
		}
	}

	ctx, cancel := s.boundedContext(r)
	defer cancel()

	msg, err := s.studio.Submit(ctx, text, image)
	if err != nil {
		s.writeGuardError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Message     messageResponse      `json:"message"`
		Suggestions []suggestionResponse `json:"suggestions"`
		Guide       *guideResponse       `json:"guide,omitempty"`
	}{
		Message:     toMessageResponse(msg),
		Suggestions: toSuggestionResponses(s.studio.Suggestions()),
		Guide:       toGuideResponse(s.studio.Guide()),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SuggestionID string `json:"suggestionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request body"})
		return
	}

	ctx, cancel := s.boundedContext(r)
	defer cancel()

	msg, err := s.studio.Generate(ctx, req.SuggestionID)
	if err != nil {
		s.writeGuardError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Message messageResponse `json:"message"`
	}{Message: toMessageResponse(msg)})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages := s.studio.Messages()
	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []messageResponse `json:"messages"`
		Busy     bool              `json:"busy"`
	}{Messages: out, Busy: s.studio.Busy()})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Suggestions []suggestionResponse `json:"suggestions"`
		Guide       *guideResponse       `json:"guide,omitempty"`
	}{
		Suggestions: toSuggestionResponses(s.studio.Suggestions()),
		Guide:       toGuideResponse(s.studio.Guide()),
	})
}

func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	s.noticeMu.Lock()
	notice := s.notice
	s.noticeMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"notice": notice})
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	s.SetNotice("")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, studio.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "sign in or create a studio account first"})
	case errors.Is(err, studio.ErrInsufficientCoins):
		writeJSON(w, http.StatusPaymentRequired, apiError{Error: "not enough coins, top up your wallet"})
	case errors.Is(err, studio.ErrBusy):
		writeJSON(w, http.StatusConflict, apiError{Error: "another request is in flight"})
	case errors.Is(err, studio.ErrUnknownSuggestion):
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown suggestion id"})
	case errors.Is(err, studio.ErrNoAnalysis), errors.Is(err, studio.ErrEmptySubmission):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
	}
}

func (s *Server) boundedContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func detectMime(headerValue string, raw []byte) string {
	mimeType := strings.TrimSpace(headerValue)
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(raw)
	}
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func toUserResponse(u wallet.User) userResponse {
	return userResponse{WalletID: u.WalletID, Name: u.Name, Coins: u.Coins}
}

func toSuggestionResponses(suggestions []studio.Suggestion) []suggestionResponse {
	out := make([]suggestionResponse, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, suggestionResponse{
			ID:        s.ID,
			Label:     s.Label,
			Prompt:    s.Prompt,
			Thumbnail: s.Preview,
		})
	}
	return out
}

func toGuideResponse(g *gemini.Guide) *guideResponse {
	if g == nil {
		return nil
	}
	shots := make([]guideShotResponse, 0, len(g.Shots))
	for _, shot := range g.Shots {
		shots = append(shots, guideShotResponse(shot))
	}
	return &guideResponse{Category: g.Category, Shots: shots}
}

func toMessageResponse(m studio.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		Role:        string(m.Role),
		Text:        m.Text,
		Time:        m.Time,
		Image:       m.Image,
		Generating:  m.Generating,
		Suggestions: toSuggestionResponses(m.Suggestions),
		Guide:       toGuideResponse(m.Guide),
	}
}
