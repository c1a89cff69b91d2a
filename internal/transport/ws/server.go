package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"stellarcolony.ai/internal/protocol"
	"stellarcolony.ai/internal/sim/engine"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
)

type Server struct {
	reg  *sessions.Registry
	tune tuning.Tuning
	log  *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(reg *sessions.Registry, tune tuning.Tuning, logger *log.Logger) *Server {
	s := &Server{
		reg:  reg,
		tune: tune,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) limiter() *rate.Limiter {
	rl := s.tune.RateLimits
	if rl.IntentsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := rl.IntentBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rl.IntentsPerSec), burst)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		states, unsubscribe := sess.Subscribe(s.tune.Sessions.SubscriberQueue)
		defer unsubscribe()
		results := make(chan []byte, 16)

		// Writer goroutine. RESULTs are never dropped; STATE pushes are
		// latest-wins inside the subscription.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			defer conn.Close() // unblocks the reader
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-results:
					if !ok {
						return
					}
					if err := writeRaw(conn, b); err != nil {
						return
					}
				case snap, ok := <-states:
					if !ok {
						_ = writeJSON(conn, protocol.NewError(protocol.ErrNotFound, "session ended"))
						return
					}
					if _, err := s.reg.Get(sess.ID()); err != nil {
						return
					}
					if err := writeJSON(conn, protocol.NewState(snap)); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		lim := s.limiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply, fatal := s.handleMessage(ctx, sess, lim, msg)
			if reply != nil {
				b, err := json.Marshal(reply)
				if err != nil {
					continue
				}
				select {
				case results <- b:
				case <-ctx.Done():
				}
			}
			if fatal || ctx.Err() != nil {
				break
			}
		}
		// Flush queued replies, then stop the writer.
		close(results)
		<-writerDone
	}
}

// handleMessage turns one inbound frame into its reply. fatal reports that
// the connection should be closed after the reply is sent.
func (s *Server) handleMessage(ctx context.Context, sess *engine.Session, lim *rate.Limiter, msg []byte) (reply any, fatal bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError(protocol.ErrProtoBadRequest, "malformed json"), false
	}
	if base.Type != protocol.TypeIntent {
		return protocol.NewError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type), false
	}
	var in protocol.IntentMsg
	if err := json.Unmarshal(msg, &in); err != nil {
		return protocol.Rejected("", 0, protocol.ErrBadRequest, err.Error()), false
	}
	if in.ProtocolVersion != "" && in.ProtocolVersion != protocol.Version {
		return protocol.Rejected(in.ReqID, 0, protocol.ErrProtoBadRequest, "bad protocol_version"), false
	}
	if err := protocol.ValidateIntent(msg); err != nil {
		return protocol.Rejected(in.ReqID, 0, protocol.ErrBadRequest, err.Error()), false
	}
	if !lim.Allow() {
		return protocol.Rejected(in.ReqID, 0, protocol.ErrRateLimit, "too many intents"), false
	}
	if _, err := s.reg.Get(sess.ID()); err != nil {
		return protocol.NewError(protocol.ErrNotFound, "session ended"), true
	}
	resp, err := sess.Do(ctx, in.Intent())
	if err != nil {
		if errors.Is(err, engine.ErrSessionClosed) {
			return protocol.NewError(protocol.ErrNotFound, "session ended"), true
		}
		return protocol.Rejected(in.ReqID, 0, protocol.ErrInternal, err.Error()), true
	}
	return protocol.NewResult(in.ReqID, resp.State.Tick, resp.Result, resp.Err), false
}

func (s *Server) handshake(conn *websocket.Conn) *engine.Session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "malformed HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
		return nil
	}
	if err := protocol.ValidateHello(msg); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	// Optional: resume an existing session (reconnect).
	resumeToken := ""
	if hello.Auth != nil {
		resumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	var (
		sess    *engine.Session
		token   string
		resumed bool
	)
	if resumeToken != "" {
		sess, err = s.reg.Resume(resumeToken)
		if err == nil {
			token, err = s.reg.IssueToken(sess.ID())
			if err != nil {
				s.reject(conn, protocol.ErrInternal, err.Error())
				return nil
			}
			resumed = true
		} else if hello.Variant == "" {
			s.reject(conn, protocol.CodeFor(err), err.Error())
			return nil
		}
	}
	if sess == nil {
		// Fresh game.
		co := sessions.CreateOptions{Variant: hello.Variant}
		if hello.Seed != nil {
			co.Seed, co.HasSeed = *hello.Seed, true
		}
		sess, token, err = s.reg.Create(co)
		if err != nil {
			s.reject(conn, protocol.CodeFor(err), err.Error())
			return nil
		}
	}
	s.logf("ws client=%q session=%s resumed=%v", hello.ClientName, sess.ID(), resumed)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.ID(),
		ResumeToken:     token,
		Variant:         sess.Variant(),
		CatalogDigest:   sess.CatalogDigest(),
		TickIntervalMs:  s.tune.TickIntervalMs,
		Resumed:         resumed,
		Variants:        s.reg.Variants(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
