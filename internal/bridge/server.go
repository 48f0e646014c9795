package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/daemon"
	"github.com/armoryops/armorylink/internal/domain"
)

// SessionFactory builds a fully wired session for one attached tab.
// The bridge owns transport only; election and pipeline semantics live
// in the session.
type SessionFactory func(sessionID, pageURL string, doc *RemoteDoc) (*daemon.Session, error)

// ServerConfig holds bridge HTTP configuration.
type ServerConfig struct {
	Addr string
	// CommandPoll bounds each long-poll for page-client commands.
	CommandPoll time.Duration
	// DocTimeout bounds each DOM round trip.
	DocTimeout time.Duration
}

// DefaultServerConfig returns default bridge configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        "127.0.0.1:7432",
		CommandPoll: 25 * time.Second,
		DocTimeout:  3 * time.Second,
	}
}

type sessionEntry struct {
	session *daemon.Session
	doc     *RemoteDoc
	pageURL string
	cancel  context.CancelFunc
}

// Server is the local HTTP bridge page clients attach to.
type Server struct {
	config  ServerConfig
	factory SessionFactory
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	// logSource, when set, backs the /logs endpoint with the agent's
	// recent structured log entries.
	logSource func() []string
	// macroSource, when set, resolves named macros for the macro
	// endpoint.
	macroSource func(name string) (domain.Macro, bool)
	// prefixHandler, when set, toggles the process-wide scan prefix by
	// label or hotkey digit. It reports the label active afterwards
	// ("" when none) and whether the prefix was known.
	prefixHandler func(label string, digit int) (string, bool)

	http *http.Server
}

// NewServer creates the bridge server.
func NewServer(config ServerConfig, factory SessionFactory, logger *zap.Logger) *Server {
	return &Server{
		config:   config,
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*sessionEntry),
	}
}

// SetLogSource wires the recent-log provider for /logs.
func (s *Server) SetLogSource(fn func() []string) {
	s.logSource = fn
}

// SetMacroSource wires the named-macro resolver.
func (s *Server) SetMacroSource(fn func(name string) (domain.Macro, bool)) {
	s.macroSource = fn
}

// SetPrefixHandler wires the process-wide prefix toggle.
func (s *Server) SetPrefixHandler(fn func(label string, digit int) (string, bool)) {
	s.prefixHandler = fn
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/attach", s.handleAttach).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDetach).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/keys", s.handleKeys).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/scan", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/macro", s.handleMacro).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/commands", s.handleCommands).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/results", s.handleResults).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/tab-event", s.handleTabEvent).Methods(http.MethodPost)
	r.HandleFunc("/prefix", s.handlePrefix).Methods(http.MethodPost)
	r.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	return r
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	if s.logSource == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.logSource())
}

// Run serves until ctx is canceled. This blocks.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("bridge listening", zap.String("addr", s.config.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		s.detachAll()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionCount(),
	})
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageURL string `json:"page_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed attach request")
		return
	}

	id := uuid.NewString()
	doc := NewRemoteDoc(s.config.DocTimeout, s.logger.Named("remdom"))

	session, err := s.factory(id, req.PageURL, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = session.Run(sessCtx)
	}()

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{
		session: session,
		doc:     doc,
		pageURL: req.PageURL,
		cancel:  cancel,
	}
	s.mu.Unlock()

	s.logger.Info("page client attached",
		zap.String("session", id),
		zap.String("url", req.PageURL))
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	type info struct {
		ID      string `json:"id"`
		PageURL string `json:"page_url"`
		Leader  bool   `json:"leader"`
	}
	out := make([]info, 0, len(s.sessions))
	for id, e := range s.sessions {
		out = append(out, info{ID: id, PageURL: e.pageURL, Leader: e.session.IsLeader()})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	entry.cancel()
	s.logger.Info("page client detached", zap.String("session", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Chars string `json:"chars"`
		Enter bool   `json:"enter"`
		// Hotkey carries an Alt+digit prefix hotkey (1..9, 0 = none).
		Hotkey int `json:"hotkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed key event")
		return
	}

	capture := entry.session.Capture()
	for _, ch := range req.Chars {
		capture.Key(ch)
	}
	if req.Enter {
		capture.Enter()
	}
	if req.Hotkey != 0 {
		capture.Hotkey(req.Hotkey)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Text   string            `json:"text"`
		Source domain.ScanSource `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed scan")
		return
	}
	if req.Source == "" {
		req.Source = domain.SourceManual
	}

	entry.session.Capture().Submit(req.Text, req.Source)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMacro(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "malformed macro request")
		return
	}
	if s.macroSource == nil {
		writeError(w, http.StatusNotFound, "no macros configured")
		return
	}
	macro, ok := s.macroSource(req.Name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown macro %q", req.Name))
		return
	}

	entry.session.Capture().SubmitMacro(macro)
	s.logger.Info("macro submitted",
		zap.String("session", mux.Vars(r)["id"]),
		zap.String("macro", macro.Name),
		zap.Int("lines", len(macro.Lines)))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePrefix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
		Digit int    `json:"digit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Label == "" && req.Digit == 0) {
		writeError(w, http.StatusBadRequest, "malformed prefix request")
		return
	}
	if s.prefixHandler == nil {
		writeError(w, http.StatusNotFound, "no prefixes configured")
		return
	}

	active, known := s.prefixHandler(req.Label, req.Digit)
	if !known {
		writeError(w, http.StatusNotFound, "unknown prefix")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": active})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	pollCtx, cancel := context.WithTimeout(r.Context(), s.config.CommandPoll)
	defer cancel()

	cmd, ok := entry.doc.NextCommand(pollCtx)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var res Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "malformed result")
		return
	}
	entry.doc.Resolve(res)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTabEvent(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.entryFor(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Kind string `json:"kind"` // "activated" or "mutated"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tab event")
		return
	}

	switch req.Kind {
	case "activated":
		entry.session.NotifyTabActivated()
	case "mutated":
		entry.session.NotifyTabBarMutated()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tab event %q", req.Kind))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) entryFor(r *http.Request) (*sessionEntry, bool) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) detachAll() {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
