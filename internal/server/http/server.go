package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaybus/relay/internal/backend"
	"github.com/relaybus/relay/internal/bus"
	"github.com/relaybus/relay/internal/runtime"
	logpkg "github.com/relaybus/relay/pkg/log"
)

// UserIDHeader carries the authenticated user id, stamped by a fronting
// proxy or auth layer. Requests without it poll as anonymous.
const UserIDHeader = "X-Relay-User-Id"

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	mux := http.NewServeMux()
	s := &Server{rt: rt, logger: logger.WithComponent("http"), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/bus/publish", s.handlePublish)
	mux.HandleFunc("/v1/bus/poll", s.handlePoll)
	mux.HandleFunc("/v1/bus/stream", s.handleStreamSSE)
	mux.HandleFunc("/v1/bus/backlog", s.handleBacklog)
	mux.HandleFunc("/v1/bus/last-id", s.handleLastID)
	return s
}

// Handler exposes the root handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// wireMessage is the JSON shape messages take on every transport.
type wireMessage struct {
	GlobalID  uint64          `json:"global_id"`
	MessageID uint64          `json:"message_id"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
}

func toWire(msgs []backend.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{
			GlobalID:  m.GlobalID,
			MessageID: m.ChannelID,
			Channel:   m.Channel,
			Data:      m.Data,
		})
	}
	return out
}

// identity extracts the caller's user id from the trusted header.
func identity(r *http.Request) bus.Identity {
	v := r.Header.Get(UserIDHeader)
	if v == "" {
		return bus.Identity{}
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return bus.Identity{}
	}
	return bus.Identity{UserID: id, HasUser: true}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type publishReq struct {
	Channel        string          `json:"channel"`
	Data           json.RawMessage `json:"data"`
	ClientIDs      []string        `json:"client_ids"`
	UserIDs        []int64         `json:"user_ids"`
	MaxBacklogSize int             `json:"max_backlog_size"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg, err := s.rt.Bus().Publish(r.Context(), req.Channel, req.Data, backend.PublishOptions{
		ClientIDs:      req.ClientIDs,
		UserIDs:        req.UserIDs,
		MaxBacklogSize: req.MaxBacklogSize,
	})
	if err != nil {
		if err == bus.ErrEmptyChannel {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to publish message")
		return
	}
	writeJSON(w, map[string]uint64{"global_id": msg.GlobalID, "message_id": msg.ChannelID})
}

type pollReq struct {
	ClientID string                     `json:"client_id"`
	Channels map[string]json.RawMessage `json:"channels"`
}

// cursorsFrom coerces the per-channel cursor map. Malformed or negative
// values mean "start from now": the cursor is pinned to the channel's
// latest id so the client receives only future messages.
func (s *Server) cursorsFrom(ctx context.Context, raw map[string]json.RawMessage) map[string]uint64 {
	cursors := make(map[string]uint64, len(raw))
	for ch, v := range raw {
		var n int64
		if err := json.Unmarshal(v, &n); err == nil && n >= 0 {
			cursors[ch] = uint64(n)
			continue
		}
		last, err := s.rt.Bus().LastID(ctx, ch)
		if err != nil {
			last = 0
		}
		cursors[ch] = last
	}
	return cursors
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req pollReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	msgs, err := s.rt.Bus().Poll(r.Context(), bus.PollRequest{
		ClientID: req.ClientID,
		Ident:    identity(r),
		Channels: s.cursorsFrom(r.Context(), req.Channels),
	})
	if err != nil {
		// Client went away mid-poll; nothing useful to write.
		return
	}
	writeJSON(w, map[string]any{"client_id": req.ClientID, "messages": toWire(msgs)})
}

// parseStreamChannels reads repeated channel params of the form "name" or
// "name,cursor".
func parseStreamChannels(values []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(values))
	for _, v := range values {
		name, cursor := v, ""
		if i := strings.LastIndex(v, ","); i >= 0 {
			name, cursor = v[:i], v[i+1:]
		}
		if name == "" {
			continue
		}
		if cursor == "" {
			out[name] = json.RawMessage("0")
		} else {
			out[name] = json.RawMessage(cursor)
		}
	}
	return out
}

// handleStreamSSE holds the connection open and emits each delivered message
// as one SSE data event. Internally it is a long-poll loop: cursors advance
// with every delivery and an idle cycle emits a keep-alive comment.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	raw := parseStreamChannels(r.URL.Query()["channel"])
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "At least one channel required")
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	ident := identity(r)
	cursors := s.cursorsFrom(r.Context(), raw)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for {
		msgs, err := s.rt.Bus().Poll(r.Context(), bus.PollRequest{
			ClientID: clientID,
			Ident:    ident,
			Channels: cursors,
		})
		if err != nil {
			return
		}
		if len(msgs) == 0 {
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
		}
		for _, m := range msgs {
			b, _ := json.Marshal(toWire([]backend.Message{m})[0])
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			if m.Channel != bus.StatusChannel && m.ChannelID > cursors[m.Channel] {
				cursors[m.Channel] = m.ChannelID
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleBacklog exposes retained history for diagnostics. Without a channel
// it returns the cross-channel backlog ordered by global id.
func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	channel := r.URL.Query().Get("channel")
	var (
		msgs []backend.Message
		err  error
	)
	if channel == "" {
		msgs, err = s.rt.Bus().GlobalBacklog(r.Context(), since)
	} else {
		msgs, err = s.rt.Bus().Backlog(r.Context(), channel, since)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read backlog")
		return
	}
	writeJSON(w, map[string]any{"messages": toWire(msgs)})
}

func (s *Server) handleLastID(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "Channel required")
		return
	}
	id, err := s.rt.Bus().LastID(r.Context(), channel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read last id")
		return
	}
	writeJSON(w, map[string]uint64{"last_id": id})
}
