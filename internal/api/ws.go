package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"routeopt/internal/auth"
	"routeopt/internal/model"
	"routeopt/internal/optimize"
)

// Streaming optimize over WebSocket. The client sends
//
//	{"type":"optimize","id":"1","payload":{...OptimizeRequest}}
//
// and receives "accepted", zero or more "state", then "result" or "error",
// then "complete", all tagged with the same id.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(typ, id string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(wsMessage{Type: typ, ID: id, Payload: raw})
}

// OptimizeWSHandler handles /v1/optimize/ws
func (s *Server) OptimizeWSHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r, optimizeRoles...)
	if !ok {
		return
	}
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{conn: raw}
	defer func() { _ = raw.Close() }()

	// r.Context is not cancelled once the connection is hijacked, so the
	// read loop ending is what cancels in-flight optimizations.
	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	raw.SetReadLimit(1 << 20)
	_ = raw.SetReadDeadline(time.Now().Add(60 * time.Second))
	raw.SetPongHandler(func(string) error { return raw.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn.mu.Lock()
				err := raw.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				conn.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := raw.ReadJSON(&msg); err != nil {
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = conn.send("connection_ack", "", nil)
		case "ping":
			_ = conn.send("pong", msg.ID, nil)
		case "optimize":
			var body model.OptimizeRequest
			if err := json.Unmarshal(msg.Payload, &body); err != nil {
				_ = conn.send("error", msg.ID, Problem{Type: "about:blank", Title: "Invalid JSON", Status: http.StatusBadRequest, Detail: err.Error(), Code: string(optimize.CodeInvalidRequest)})
				_ = conn.send("complete", msg.ID, nil)
				continue
			}
			wg.Add(1)
			go func(opID string) {
				defer wg.Done()
				s.streamOptimize(ctx, conn, p, opID, body)
			}(msg.ID)
		default:
			// ignore
		}
	}
}

func (s *Server) streamOptimize(ctx context.Context, conn *wsConn, p auth.Principal, opID string, body model.OptimizeRequest) {
	defer func() { _ = conn.send("complete", opID, nil) }()

	req, err := validateOptimizeRequest(&body)
	if err != nil {
		_ = conn.send("error", opID, Problem{Type: "about:blank", Title: "Invalid optimize request", Status: http.StatusBadRequest, Detail: err.Error(), Code: string(optimize.CodeInvalidRequest)})
		return
	}
	req.ID = uuid.NewString()
	s.applyTenantConfig(ctx, p, &req)

	events := s.Broker.Subscribe(req.ID)
	done := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case evt, open := <-events:
				if !open {
					return
				}
				_ = conn.send("state", opID, evt.Data)
				if terminalEvent(evt) {
					return
				}
			case <-done:
				return
			}
		}
	}()
	_ = conn.send("accepted", opID, map[string]string{"requestId": req.ID})

	res, err := s.Service.Optimize(ctx, req)
	// Let the terminal transition reach the client before the result.
	select {
	case <-forwarded:
	case <-time.After(time.Second):
	}
	close(done)
	s.Broker.Unsubscribe(req.ID, events)

	if err != nil {
		status, title := http.StatusInternalServerError, "Optimize failed"
		pr := Problem{Type: "about:blank", Detail: err.Error()}
		var oe *optimize.Error
		if errors.As(err, &oe) {
			status, title = optimizeStatus(oe.Code)
			pr.Detail, pr.Code = oe.Message, string(oe.Code)
		}
		pr.Title, pr.Status = title, status
		_ = conn.send("error", opID, pr)
		return
	}
	out := toResponse(res)
	s.emitCompleted(ctx, p.Tenant, out)
	if err := conn.send("result", opID, out); err != nil {
		s.Log.Debug("websocket result not delivered", zap.String("request_id", res.RequestID), zap.Error(err))
	}
}
