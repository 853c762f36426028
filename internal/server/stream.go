package server

import (
	"fmt"
	"net/http"
	"time"
)

// streamInterval paces the preview stream at about 15 FPS.
const streamInterval = 66 * time.Millisecond

// StreamHandler serves the rendered depth preview as MJPEG.
type StreamHandler struct {
	preview Previewer
}

// NewStreamHandler creates a new StreamHandler for the given previewer.
func NewStreamHandler(p Previewer) *StreamHandler {
	return &StreamHandler{preview: p}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		wait := streamInterval

		buf, err := h.preview.Preview()
		if err != nil {
			// No frame yet, or the renderer failed on this one.
			wait = 100 * time.Millisecond
		} else {
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
			w.Write(buf)
			fmt.Fprintf(w, "\r\n")

			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(wait):
		}
	}
}
