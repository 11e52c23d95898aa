package vncproxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/rfbkit/internal/recording"
)

const tcpChunkSize = 4096

func newRecorder(sessionDir string) (*recording.Writer, error) {
	return recording.New(sessionDir)
}

// relay pumps bytes in both directions between frontend (WebSocket) and
// backend (TCP VNC server) until either side closes or errors, recording
// each direction immediately after a successful forward of that chunk so a
// recorded byte is never observed ahead of the peer that actually received
// it.
func relay(log *slog.Logger, frontend *websocket.Conn, backend net.Conn, rec *recording.Writer) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer backend.Close()
		frontendToBackend(log, frontend, backend, rec)
	}()

	go func() {
		defer wg.Done()
		defer frontend.Close()
		backendToFrontend(log, backend, frontend, rec)
	}()

	wg.Wait()
}

// frontendToBackend is the client-originated direction: frontend sends the
// bytes a VNC client would normally send directly to the server.
func frontendToBackend(log *slog.Logger, frontend *websocket.Conn, backend net.Conn, rec *recording.Writer) {
	for {
		msgType, data, err := frontend.ReadMessage()
		if err != nil {
			if !isCleanClose(err) {
				log.Warn("frontend read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if _, err := backend.Write(data); err != nil {
			log.Warn("writing to backend failed", "error", err)
			return
		}
		if err := rec.Record(recording.Client, data, time.Now()); err != nil {
			log.Warn("recording client chunk failed", "error", err)
		}
	}
}

// backendToFrontend is the server-originated direction.
func backendToFrontend(log *slog.Logger, backend net.Conn, frontend *websocket.Conn, rec *recording.Writer) {
	buf := make([]byte, tcpChunkSize)
	for {
		n, err := backend.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if werr := frontend.WriteMessage(websocket.BinaryMessage, chunk); werr != nil {
				log.Warn("writing to frontend failed", "error", werr)
				return
			}
			if rerr := rec.Record(recording.Server, chunk, time.Now()); rerr != nil {
				log.Warn("recording server chunk failed", "error", rerr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("backend read failed", "error", err)
			}
			return
		}
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
