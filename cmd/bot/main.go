package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"stellarcolony.ai/internal/protocol"
	"stellarcolony.ai/internal/sim/engine"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", "bot", "client name")
		variant = flag.String("variant", "colony", "variant to play")
		seed    = flag.Int64("seed", 0, "game seed (0 = server chooses)")
		token   = flag.String("token", "", "resume token from an earlier run")
		every   = flag.Duration("every", time.Second, "minimum time between decisions")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Variant:         *variant,
	}
	if *seed != 0 {
		hello.Seed = seed
	}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var (
		last  time.Time
		reqID int
	)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s variant=%s resumed=%v token=%s", w.SessionID, w.Variant, w.Resumed, w.ResumeToken)

		case protocol.TypeState:
			var st struct {
				State engine.Snapshot `json:"state"`
			}
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if time.Since(last) < *every {
				continue
			}
			last = time.Now()
			s := st.State
			if s.Tick%30 == 0 {
				logger.Printf("tick=%d stage=%d(%s) progress=%.0f%% rate=%.1f prestige=%d",
					s.Tick, s.Stage.Level, s.Stage.Name, s.Stage.Progress*100, s.ProductionRate, s.Prestige.Bonus)
			}
			for _, in := range nextIntents(s) {
				reqID++
				in.ReqID = fmt.Sprintf("b%d", reqID)
				if err := conn.WriteJSON(in); err != nil {
					return
				}
			}

		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			if !r.Accepted && r.Code != protocol.ErrNoResource {
				logger.Printf("RESULT %s rejected: %s %s", r.ReqID, r.Code, r.Message)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
			return
		}
	}
}
