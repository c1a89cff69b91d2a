// Package httpapi is the request/response face of the session registry:
// create a game, read its state and submit intents without holding a socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"stellarcolony.ai/internal/protocol"
	"stellarcolony.ai/internal/sim/engine"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
)

const maxBody = 16 * 1024

type Server struct {
	reg  *sessions.Registry
	tune tuning.Tuning
	log  *log.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewServer(reg *sessions.Registry, tune tuning.Tuning, logger *log.Logger) *Server {
	return &Server{reg: reg, tune: tune, log: logger, limiters: map[string]*rate.Limiter{}}
}

type ctxKey struct{}

type CreateRequest struct {
	Variant string `json:"variant"`
	Seed    *int64 `json:"seed,omitempty"`
}

type CreateResponse struct {
	SessionID     string `json:"session_id"`
	ResumeToken   string `json:"resume_token"`
	Variant       string `json:"variant"`
	CatalogDigest string `json:"catalog_digest"`
}

// Routes mounts the API on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/variants", s.handleVariants).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions", s.handleCreate).Methods(http.MethodPost)

	authed := r.PathPrefix("/v1/sessions/{id}").Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	authed.HandleFunc("/intents", s.handleIntent).Methods(http.MethodPost)
	authed.HandleFunc("", s.handleClose).Methods(http.MethodDelete)
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Routes(r)
	return r
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "sessions": s.reg.Len()})
}

func (s *Server) handleVariants(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"variants": s.reg.Variants()})
}

func (s *Server) handleCreate(rw http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed json")
		return
	}
	co := sessions.CreateOptions{Variant: strings.TrimSpace(req.Variant)}
	if req.Seed != nil {
		co.Seed, co.HasSeed = *req.Seed, true
	}
	sess, token, err := s.reg.Create(co)
	if err != nil {
		code := protocol.CodeFor(err)
		writeError(rw, statusFor(code), code, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, CreateResponse{
		SessionID:     sess.ID(),
		ResumeToken:   token,
		Variant:       sess.Variant(),
		CatalogDigest: sess.CatalogDigest(),
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(rw, http.StatusUnauthorized, protocol.ErrUnauthorized, "missing bearer token")
			return
		}
		sess, err := s.reg.Resume(strings.TrimSpace(token))
		if err != nil {
			code := protocol.CodeFor(err)
			writeError(rw, statusFor(code), code, err.Error())
			return
		}
		if sess.ID() != mux.Vars(r)["id"] {
			writeError(rw, http.StatusForbidden, protocol.ErrUnauthorized, "token does not match session")
			return
		}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *engine.Session {
	sess, _ := r.Context().Value(ctxKey{}).(*engine.Session)
	return sess
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	snap, err := sessionFrom(r).State(r.Context())
	if err != nil {
		s.sessionError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.NewState(snap))
}

func (s *Server) handleIntent(rw http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	var in protocol.IntentMsg
	if err := json.Unmarshal(raw, &in); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed json")
		return
	}
	if in.Type == "" {
		// The route already says what this is.
		in.Type = protocol.TypeIntent
		raw, _ = json.Marshal(in)
	}
	if err := protocol.ValidateIntent(raw); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.Rejected(in.ReqID, 0, protocol.ErrBadRequest, err.Error()))
		return
	}
	if !s.limiter(sess.ID()).Allow() {
		writeJSON(rw, http.StatusTooManyRequests, protocol.Rejected(in.ReqID, 0, protocol.ErrRateLimit, "too many intents"))
		return
	}
	resp, err := sess.Do(r.Context(), in.Intent())
	if err != nil {
		s.sessionError(rw, err)
		return
	}
	res := protocol.NewResult(in.ReqID, resp.State.Tick, resp.Result, resp.Err)
	status := http.StatusOK
	switch {
	case res.Accepted:
	case res.Code == protocol.ErrNotFound, res.Code == protocol.ErrBadRequest:
		status = statusFor(res.Code)
	default:
		status = http.StatusConflict
	}
	writeJSON(rw, status, res)
}

func (s *Server) handleClose(rw http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).ID()
	s.reg.Close(id)
	s.mu.Lock()
	delete(s.limiters, id)
	s.mu.Unlock()
	if s.log != nil {
		s.log.Printf("http session=%s closed by client", id)
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) limiter(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[id]; ok {
		return l
	}
	rl := s.tune.RateLimits
	l := rate.NewLimiter(rate.Inf, 0)
	if rl.IntentsPerSec > 0 {
		l = rate.NewLimiter(rate.Limit(rl.IntentsPerSec), max(rl.IntentBurst, 1))
	}
	s.limiters[id] = l
	return l
}

func (s *Server) sessionError(rw http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrSessionClosed) {
		writeError(rw, http.StatusGone, protocol.ErrNotFound, "session ended")
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrUnauthorized:
		return http.StatusUnauthorized
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrRateLimit:
		return http.StatusTooManyRequests
	case protocol.ErrLimit:
		return http.StatusServiceUnavailable
	case protocol.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func writeError(rw http.ResponseWriter, status int, code, message string) {
	writeJSON(rw, status, protocol.NewError(code, message))
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
