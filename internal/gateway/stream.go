package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Live browser streaming: a pool slot is leased per session id; CDP
// screencast frames relay to the client, and JSON control commands drive
// the page.

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type streamCommand struct {
	Action string  `json:"action"` // navigate | click | scroll | type | stop
	URL    string  `json:"url,omitempty"`
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Text   string  `json:"text,omitempty"`
}

type streamFrame struct {
	Type string `json:"type"` // "frame" | "error" | "navigated"
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// handleStreamWS relays screencast frames as base64 JPEG and accepts
// control commands.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "browser pool disabled", "")
		return
	}

	// Resume an in-flight session or lease a fresh slot.
	slot := s.pool.LookupBySession(sessionID)
	owned := false
	if slot == nil {
		slot = s.pool.Acquire(r.Context(), sessionID)
		owned = true
	}
	if slot == nil {
		writeError(w, http.StatusServiceUnavailable, "browser pool saturated", "retry later or route to a peer")
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("stream upgrade failed", "session", sessionID, "error", err)
		if owned {
			s.pool.Release(r.Context(), slot)
		}
		return
	}
	defer func() {
		conn.Close()
		if owned {
			s.pool.Release(r.Context(), slot)
		}
	}()

	session := slot.Session

	if url := r.URL.Query().Get("url"); url != "" {
		if _, err := session.Navigate(r.Context(), url, "domcontentloaded", 0, ""); err != nil {
			conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
		} else {
			slot.NavigatedURL = url
			conn.WriteJSON(streamFrame{Type: "navigated", URL: url})
		}
	}

	var writeMu sync.Mutex
	stop, err := session.StartScreencast(s.cfg.Browser.StreamQuality, s.cfg.Browser.StreamMaxWidth, func(jpeg []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteJSON(streamFrame{Type: "frame", Data: base64.StdEncoding.EncodeToString(jpeg)})
	})
	if err != nil {
		conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
		return
	}
	defer stop()

	slog.Info("stream started", "session", sessionID, "slot", slot.SlotID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("stream closed", "session", sessionID, "error", err)
			return
		}
		var cmd streamCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			conn.WriteJSON(streamFrame{Type: "error", Data: "bad command"})
			continue
		}

		switch cmd.Action {
		case "navigate":
			if _, err := session.Navigate(r.Context(), cmd.URL, "domcontentloaded", 0, ""); err != nil {
				conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
				continue
			}
			slot.NavigatedURL = cmd.URL
			conn.WriteJSON(streamFrame{Type: "navigated", URL: cmd.URL})
		case "click":
			if err := session.Click(cmd.X, cmd.Y); err != nil {
				conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
			}
		case "scroll":
			if err := session.Scroll(cmd.DX, cmd.DY); err != nil {
				conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
			}
		case "type":
			if err := session.Type(cmd.Text); err != nil {
				conn.WriteJSON(streamFrame{Type: "error", Data: err.Error()})
			}
		case "stop":
			return
		default:
			conn.WriteJSON(streamFrame{Type: "error", Data: "unknown action: " + cmd.Action})
		}
	}
}

// handleStreamMJPEG serves the same screencast as a multipart MJPEG stream
// for plain <img> consumers.
func (s *Server) handleStreamMJPEG(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "browser pool disabled", "")
		return
	}
	slot := s.pool.LookupBySession(sessionID)
	if slot == nil {
		writeError(w, http.StatusNotFound, "no active session", sessionID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	const boundary = "gocrawlframe"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.WriteHeader(http.StatusOK)

	frames := make(chan []byte, 8)
	stop, err := slot.Session.StartScreencast(s.cfg.Browser.StreamQuality, s.cfg.Browser.StreamMaxWidth, func(jpeg []byte) {
		select {
		case frames <- jpeg:
		default: // drop frames the client can't keep up with
		}
	})
	if err != nil {
		return
	}
	defer stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-frames:
			decoded, err := decodeBase64Frame(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(decoded))
			w.Write(decoded)
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		case <-time.After(30 * time.Second):
			// Idle screencast: client likely stalled.
			return
		}
	}
}
