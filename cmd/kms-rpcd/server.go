// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/ats-kms/internal/logger"
	"github.com/sage-x-project/ats-kms/rpc"
)

// wsServer upgrades a single localhost connection per browser extension
// instance to a long-lived socket and dispatches every frame read from it
// straight into the shared Dispatcher. One Dispatcher per process backs
// every connection: unlock contexts and lease records live in that
// Dispatcher's memory for the process lifetime, not per-connection, which
// matches a browser-embedded KMS where the extension reconnects across
// page reloads without losing an unlocked session.
type wsServer struct {
	dispatcher *rpc.Dispatcher
	log        *logger.StructuredLogger
	upgrader   websocket.Upgrader

	readTimeout  time.Duration
	writeTimeout time.Duration

	connections map[*websocket.Conn]bool
	connMu      sync.RWMutex
}

func newWSServer(d *rpc.Dispatcher, log *logger.StructuredLogger) *wsServer {
	return &wsServer{
		dispatcher: d,
		log:        log,
		upgrader: websocket.Upgrader{
			// The daemon only ever accepts connections from the browser
			// extension running on the same machine; CheckOrigin is a
			// no-op because localhost ws traffic has no Origin header
			// worth trusting or rejecting.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		connections:  make(map[*websocket.Conn]bool),
	}
}

func (s *wsServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}

		s.addConnection(conn)
		defer s.removeConnection(conn)
		defer func() { _ = conn.Close() }()

		s.log.Info("connection opened", logger.String("remote", r.RemoteAddr))
		s.handleConnection(r.Context(), conn)
		s.log.Info("connection closed", logger.String("remote", r.RemoteAddr))
	})
}

func (s *wsServer) handleConnection(ctx context.Context, conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}

		var req rpc.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", logger.Error(err))
			}
			return
		}

		resp := s.dispatcher.Dispatch(ctx, req)
		s.sendResponse(conn, resp)
	}
}

func (s *wsServer) sendResponse(conn *websocket.Conn, resp rpc.Response) {
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		s.log.Error("failed to set write deadline", logger.Error(err))
		return
	}
	if err := conn.WriteJSON(resp); err != nil {
		s.log.Error("failed to write response", logger.Error(err))
	}
}

func (s *wsServer) addConnection(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[conn] = true
}

func (s *wsServer) removeConnection(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, conn)
}

// Close sends a normal-closure frame to every open connection, used during
// graceful shutdown.
func (s *wsServer) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.connections {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
		_ = conn.Close()
	}
	s.connections = make(map[*websocket.Conn]bool)
	return nil
}
