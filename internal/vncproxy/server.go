// Package vncproxy implements the recording proxy: a single-use WebSocket
// frontend that relays bytes to/from a TCP VNC backend, durably recording
// both directions as it goes.
package vncproxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/rfbkit/internal/logging"
)

var log = logging.L("vncproxy")

// PostProcessFunc runs after a recording session's relay loop ends, given
// the session's recording directory, letting callers plug in post-recording
// automation without vncproxy needing to know about it.
type PostProcessFunc func(sessionDir string)

// Server is a single-use recording proxy: it relays each frontend WebSocket
// connection against its own TCP VNC backend connection and shuts itself
// down when the first session ends. A second connection that arrives while a
// session is running is not refused; it is relayed and recorded as well.
type Server struct {
	listenAddr   string
	backendAddr  string
	recordingDir string
	postProcess  PostProcessFunc

	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	stopOnce   sync.Once
	ready      chan struct{}
}

// New constructs a proxy that will dial backendAddr over TCP once a frontend
// connects to listenAddr, recording the session under recordingDir.
// postProcess may be nil.
func New(listenAddr, backendAddr, recordingDir string, postProcess PostProcessFunc) *Server {
	return &Server{
		listenAddr:   listenAddr,
		backendAddr:  backendAddr,
		recordingDir: recordingDir,
		postProcess:  postProcess,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ready: make(chan struct{}),
	}
}

// Start begins listening in the background. It returns once the listener is
// bound; the actual session handling happens on a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("vncproxy: listen %s: %w", s.listenAddr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleFrontend)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		close(s.ready)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("proxy listener exited", "error", err)
		}
	}()

	return nil
}

// WaitUntilAccepting blocks until the listener is bound and Serve has been
// entered, useful for tests that need to know the proxy is ready to accept.
func (s *Server) WaitUntilAccepting() {
	<-s.ready
}

// Addr returns the bound listener address, useful when listenAddr used a
// ":0" ephemeral port.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down the HTTP server and waits for the serving goroutine to
// exit.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		err = s.httpServer.Shutdown(ctx)
	})
	s.wg.Wait()
	return err
}

func (s *Server) handleFrontend(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.New()
	sessionLog := log.With(logging.KeySessionID, sessionID.String())

	frontend, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sessionLog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer frontend.Close()

	backend, err := net.Dial("tcp", s.backendAddr)
	if err != nil {
		sessionLog.Error("dialing VNC backend failed", "error", err, "backend", s.backendAddr)
		return
	}
	defer backend.Close()

	sessionDir := filepath.Join(s.recordingDir, sessionID.String())
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		sessionLog.Error("creating recording directory failed", "error", err, "dir", sessionDir)
		return
	}

	rec, err := newRecorder(sessionDir)
	if err != nil {
		sessionLog.Error("creating recording writer failed", "error", err)
		return
	}

	sessionLog.Info("recording session started", "dir", sessionDir, "backend", s.backendAddr)
	relay(sessionLog, frontend, backend, rec)
	rec.Close()
	sessionLog.Info("recording session ended", "dir", sessionDir)

	if s.postProcess != nil {
		s.postProcess(sessionDir)
	}

	go func() {
		if err := s.Stop(context.Background()); err != nil {
			sessionLog.Warn("proxy shutdown after session failed", "error", err)
		}
	}()
}
