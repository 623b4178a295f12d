// Package control exposes the running agent over HTTP: manual broadcast,
// manual accept, session inspection and a websocket feed of outcomes.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bsrdtoms/fdi-pln2609/internal/ledger"
	"github.com/bsrdtoms/fdi-pln2609/internal/negotiation"
	"github.com/bsrdtoms/fdi-pln2609/internal/runtime"
	"github.com/bsrdtoms/fdi-pln2609/internal/store"
)

// Agent is what the control surface drives.
type Agent interface {
	BroadcastCycle(ctx context.Context) (runtime.Summary, error)
	ManualAccept(ctx context.Context, recipient string, send ledger.Resources) (ledger.Resources, error)
}

type Server struct {
	agent   Agent
	session *runtime.Session
	journal *store.Store
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(agent Agent, session *runtime.Session, journal *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		agent:   agent,
		session: session,
		journal: journal,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /accept/{dest}", s.handleAccept)
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /outcomes", s.handleOutcomes)
	mux.HandleFunc("GET /ws/events", s.handleEvents)
	return mux
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()
	s.log.Info("control surface listening", "address", addr)

	select {
	case <-ctx.Done():
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control shutdown: %w", err)
	}
	s.log.Info("control surface stopped")
	return nil
}

type broadcastResponse struct {
	Status string `json:"status"`
	runtime.Summary
}

func (s *Server) handleBroadcast(rw http.ResponseWriter, r *http.Request) {
	sum, err := s.agent.BroadcastCycle(r.Context())
	if err != nil {
		s.log.Warn("manual broadcast failed", "err", err)
		writeError(rw, http.StatusBadGateway, err)
		return
	}
	writeJSON(rw, http.StatusOK, broadcastResponse{Status: "broadcast_sent", Summary: sum})
}

type acceptResponse struct {
	Status    string           `json:"status"`
	Recipient string           `json:"recipient"`
	Package   ledger.Resources `json:"package"`
}

func (s *Server) handleAccept(rw http.ResponseWriter, r *http.Request) {
	dest := strings.TrimSpace(r.PathValue("dest"))
	send, err := decodePackage(rw, r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, negotiation.ErrInvalidQuantity) {
			status = http.StatusUnprocessableEntity
		}
		writeError(rw, status, err)
		return
	}

	pkg, err := s.agent.ManualAccept(r.Context(), dest, send)
	switch {
	case err == nil:
		writeJSON(rw, http.StatusOK, acceptResponse{Status: string(negotiation.StatusAccepted), Recipient: dest, Package: pkg})
	case runtime.IsRejection(err):
		writeError(rw, http.StatusUnprocessableEntity, err)
	default:
		writeError(rw, http.StatusBadGateway, err)
	}
}

// decodePackage reads {resource: quantity}. Syntax errors are reported
// as-is; values that are not integers wrap ErrInvalidQuantity.
func decodePackage(rw http.ResponseWriter, r *http.Request) (ledger.Resources, error) {
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode package: %w", err)
	}
	send := make(ledger.Resources, len(raw))
	for name, v := range raw {
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, negotiation.ErrInvalidQuantity)
		}
		qty, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, negotiation.ErrInvalidQuantity)
		}
		send[name] = int(qty)
	}
	return send, nil
}

func (s *Server) handleSession(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleOutcomes(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, s.journal.Recent(0))
}

func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.journal.Subscribe(64)
	defer unsubscribe()

	// The reader only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
			return
		case o, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(o); err != nil {
				s.log.Debug("event feed write failed", "err", err)
				return
			}
		}
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}
