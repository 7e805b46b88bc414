package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const keepAliveInterval = 30 * time.Second

// Verifier answers read-only notarization queries.
type Verifier interface {
	Verify(ctx context.Context, fp types.Fingerprint) (types.VerificationResult, error)
}

// Server serves the event feed.
type Server struct {
	broker   *Broker
	verifier Verifier
	addr     string
	http     *http.Server
}

// NewServer creates a feed server on addr. verifier may be nil, in which
// case /verify is not served.
func NewServer(addr string, broker *Broker, verifier Verifier) *Server {
	s := &Server{broker: broker, verifier: verifier, addr: addr}
	s.http = &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Router returns the HTTP routes of the feed.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/events", s.handleEventsWS)
	r.Get("/events/stream", s.handleEventsStream)
	if s.verifier != nil {
		r.Get("/verify/{fingerprint}", s.handleVerify)
	}
	return r
}

// Start runs the HTTP server in the background. The returned channel
// receives the error that stopped it.
func (s *Server) Start() <-chan error {
	log.Printf("INFO: Event feed listening on %s", s.addr)
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server, waiting for handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     types.Version,
		"subscribers": s.broker.Subscribers(),
	})
}

// subscription holds the query options of a feed request: ?kind= limits
// the event kind, ?replay=N first sends up to N retained events.
type subscription struct {
	kind   types.EventKind
	replay int
}

func parseSubscription(r *http.Request) (subscription, error) {
	var sub subscription
	q := r.URL.Query()
	switch k := types.EventKind(q.Get("kind")); k {
	case "", types.EventCommitted, types.EventSigned:
		sub.kind = k
	default:
		return sub, fmt.Errorf("unknown event kind %q", k)
	}
	if v := q.Get("replay"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return sub, fmt.Errorf("invalid replay count %q", v)
		}
		sub.replay = n
	}
	return sub, nil
}

func (sub subscription) wants(ev types.Event) bool {
	return sub.kind == "" || ev.Kind == sub.kind
}

// backlog returns the replayed events and the set of their IDs, so live
// events already replayed can be skipped.
func (s *Server) backlog(sub subscription) ([]types.Event, map[string]struct{}) {
	if sub.replay == 0 {
		return nil, nil
	}
	var out []types.Event
	seen := make(map[string]struct{})
	for _, ev := range s.broker.Recent(sub.replay) {
		if sub.wants(ev) {
			out = append(out, ev)
			seen[ev.ID] = struct{}{}
		}
	}
	return out, seen
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Warning: WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.broker.Subscribe()
	defer cancel()

	backlog, seen := s.backlog(sub)
	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// the read loop only notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, dup := seen[ev.ID]; dup || !sub.wants(ev) {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events, cancel := s.broker.Subscribe()
	defer cancel()

	backlog, seen := s.backlog(sub)
	for _, ev := range backlog {
		writeSSE(w, ev)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, dup := seen[ev.ID]; dup || !sub.wants(ev) {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev types.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	fp, err := types.ParseFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.verifier.Verify(r.Context(), fp)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, notary.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
