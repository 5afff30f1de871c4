// Package http implements the HTTP/WebSocket transport for homenlu.
//
// This transport exposes a REST endpoint for one-shot interpretation and a
// WebSocket endpoint for control panels that keep a connection open and
// send one utterance per frame.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/transport"
)

// maxBodyBytes bounds a request body or WebSocket frame.
const maxBodyBytes = 1 << 20

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port     int
	swagger  bool
	client   *http.Client
	upgrader websocket.Upgrader
	server   *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int, swagger bool) *Transport {
	return &Transport{
		port:    port,
		swagger: swagger,
		client:  &http.Client{Timeout: 10 * time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the routes served by Listen.
func (t *Transport) Handler(handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	// POST /interpret accepts a JSON message or a plain-text utterance.
	mux.HandleFunc("POST /interpret", func(w http.ResponseWriter, r *http.Request) {
		t.handleInterpret(w, r, handler)
	})

	// GET /ws: one utterance per frame, one result per reply frame.
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		t.handleWebSocket(w, r, handler)
	})

	if t.swagger {
		// Swagger UI for the registered OpenAPI docs.
		mux.Handle("GET /swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}
	return mux
}

// Listen starts the HTTP server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port, "swagger", t.swagger)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleInterpret processes a POST /interpret request.
//
// @Summary     Interpret a smart-home command
// @Description Accepts a JSON message, or a plain-text body holding only the utterance.
// @Description The utterance is run through direct extraction and, when that is not actionable,
// @Description knowledge-base retrieval. The result is routed to any requested targets.
// @Tags        interpret
// @Accept      json
// @Accept      plain
// @Produce     json
// @Param       message  body      message.Message  true  "Interpret request (JSON). For plain text, POST the utterance with Content-Type text/plain."
// @Param       X-Homenlu-Source  header  string  false  "Sender identifier (used with plain-text bodies)"
// @Success     200  {object}  message.DispatchResult  "Interpreted command"
// @Failure     400  {string}  string  "Invalid request body"
// @Failure     500  {string}  string  "Internal processing error"
// @Router      /interpret [post]
func (t *Transport) handleInterpret(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var msg message.Message
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		msg.Text = string(body)
		msg.Source = r.Header.Get("X-Homenlu-Source")
	} else if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := handler(r.Context(), &msg)
	if err != nil {
		slog.Error("dispatch failed", "error", err)
		http.Error(w, "dispatch error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleWebSocket serves GET /ws. Text frames holding a JSON object are read
// as messages; any other text frame is the utterance itself.
func (t *Transport) handleWebSocket(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	source := r.URL.Query().Get("source")
	slog.Debug("websocket connected", "remote", r.RemoteAddr, "source", source)

	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			_ = conn.WriteJSON(map[string]string{"error": "only text frames are supported"})
			continue
		}

		msg := message.Message{Source: source}
		trimmed := bytes.TrimSpace(frame)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, &msg); err != nil {
				_ = conn.WriteJSON(map[string]string{"error": "invalid json: " + err.Error()})
				continue
			}
			if msg.Source == "" {
				msg.Source = source
			}
		} else {
			msg.Text = string(trimmed)
		}

		result, err := handler(r.Context(), &msg)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			continue
		}
		if err := conn.WriteJSON(result); err != nil {
			slog.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// Send delivers a payload to an HTTP target via POST.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("http send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("http send: status %d: %s", resp.StatusCode, body)
	}

	slog.Debug("http send success", "target", target.Endpoint, "status", resp.StatusCode)
	return nil
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}
