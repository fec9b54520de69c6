package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/framebuf"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadyPoll    = 2 * time.Millisecond
)

// Stream message types.
const (
	StreamReady  = "ready"
	StreamResult = "result"
	StreamMode   = "mode"
	StreamPing   = "ping"
	StreamPong   = "pong"
	StreamError  = "error"
)

// StreamMessage is the JSON envelope of /ws/stream text messages. Frames
// are sent by the client as binary messages holding an encoded image.
type StreamMessage struct {
	Type    string           `json:"type"`
	Mode    string           `json:"mode,omitempty"`
	FrameID uint64           `json:"frame_id,omitempty"`
	Dropped uint64           `json:"dropped,omitempty"`
	Result  *pipeline.Result `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// streamWebSocketHandler runs the live pipeline over frames pushed by the
// client. Only the newest frame is processed; frames arriving while a run
// is in flight replace each other and the overwritten ones are dropped.
func (s *Server) streamWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "OCR pipeline not initialized", http.StatusServiceUnavailable)
		return
	}
	modeName := r.URL.Query().Get("mode")
	if modeName == "" {
		modeName = s.defaultMode
	} else if !s.modes.Known(modeName) {
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	s.streams.Add(1)
	defer func() {
		websocketConnections.Dec()
		s.streams.Add(-1)
	}()
	slog.Info("stream connection established", "remote_addr", r.RemoteAddr, "mode", modeName)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &streamSession{
		server: s,
		conn:   conn,
		slot:   framebuf.New(),
		async:  pipeline.NewAsync(s.runner, s.modes.Lookup(modeName).Name),
		kick:   make(chan struct{}, 1),
	}
	conn.SetReadLimit(s.maxUploadMB * 1024 * 1024)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.pump(ctx)
	}()
	go func() {
		defer wg.Done()
		sess.keepalive(ctx)
	}()

	sess.send(StreamMessage{Type: StreamReady, Mode: sess.async.Mode()})
	sess.readLoop()

	cancel()
	sess.async.Close()
	wg.Wait()
	slog.Info("stream connection closed", "remote_addr", r.RemoteAddr, "dropped", sess.slot.Dropped())
}

type streamSession struct {
	server  *Server
	conn    *websocket.Conn
	writeMu sync.Mutex
	slot    *framebuf.Slot
	async   *pipeline.Async
	kick    chan struct{}
}

func (ss *streamSession) readLoop() {
	_ = ss.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		messageType, data, err := ss.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("stream read failed", "error", err)
			}
			return
		}
		_ = ss.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			ss.handleFrame(data)
		case websocket.TextMessage:
			ss.handleControl(data)
		}
	}
}

func (ss *streamSession) handleFrame(data []byte) {
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		ss.send(StreamMessage{Type: StreamError, Error: "invalid image frame"})
		return
	}
	before := ss.slot.Dropped()
	ss.slot.Put(utils.FitWithin(img, utils.DefaultImageConstraints()))
	if ss.slot.Dropped() > before {
		streamFramesDropped.Inc()
	}
	select {
	case ss.kick <- struct{}{}:
	default:
	}
}

func (ss *streamSession) handleControl(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		ss.send(StreamMessage{Type: StreamError, Error: "invalid control message"})
		return
	}
	switch msg.Type {
	case StreamPing:
		ss.send(StreamMessage{Type: StreamPong})
	case StreamMode:
		if !ss.server.modes.Known(msg.Mode) {
			ss.send(StreamMessage{Type: StreamError, Error: "unknown mode " + msg.Mode})
			return
		}
		ss.async.SetMode(ss.server.modes.Lookup(msg.Mode).Name)
		ss.send(StreamMessage{Type: StreamMode, Mode: ss.async.Mode()})
	default:
		ss.send(StreamMessage{Type: StreamError, Error: "unknown message type " + msg.Type})
	}
}

// pump is the only submitter to the session's Async wrapper. It waits for
// the wrapper to become ready before taking a frame so no frame is lost to
// a rejected submission.
func (ss *streamSession) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ss.kick:
		}
		for {
			if _, ok := ss.slot.Latest(); !ok {
				break
			}
			if !ss.waitReady(ctx) {
				return
			}
			frame, ok := ss.slot.Take()
			if !ok {
				break
			}
			ch, ok := ss.async.SubmitChan(ctx, frame.Image)
			if !ok {
				return
			}
			var res pipeline.Result
			select {
			case res = <-ch:
			case <-ctx.Done():
				return
			}
			ss.slot.SetResult(frame.ID, res)
			recordPipelineResult("stream", res, res.TotalRuntime.Duration())
			ss.send(StreamMessage{Type: StreamResult, FrameID: frame.ID, Dropped: ss.slot.Dropped(), Result: &res})
		}
	}
}

func (ss *streamSession) waitReady(ctx context.Context) bool {
	ticker := time.NewTicker(wsReadyPoll)
	defer ticker.Stop()
	for !ss.async.PollReady() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (ss *streamSession) keepalive(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.writeMu.Lock()
			err := ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			ss.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (ss *streamSession) send(msg StreamMessage) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	_ = ss.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ss.conn.WriteJSON(msg); err != nil {
		slog.Debug("stream write failed", "type", msg.Type, "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
