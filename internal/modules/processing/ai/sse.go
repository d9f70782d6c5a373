package ai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	eventToken = "token"
	eventDone  = "done"
	eventError = "error"
)

// replyEvent is the frame shape shared by SSE and websocket chat.
type replyEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type replyDone struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
	Error  string `json:"error,omitempty"`
}

// terminalEvent renders the final token of r.
func terminalEvent(r *Reply) replyEvent {
	acc := r.Accumulated()
	done := replyDone{Status: r.State().String(), Text: acc.Text, Tokens: acc.Tokens}
	if r.State() == StateFailed {
		done.Error = r.Token().Text
		return replyEvent{Type: eventError, Data: done}
	}
	return replyEvent{Type: eventDone, Data: done}
}

// drainReply pulls r to the end, handing each frame to emit. It stops early
// when emit fails.
func drainReply(r *Reply, emit func(replyEvent) error) error {
	defer r.Close()
	for r.Next() {
		tok := r.Token()
		ev := replyEvent{Type: eventToken, Data: tok.Text}
		if tok.IsFinal {
			ev = terminalEvent(r)
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// streamReply writes r as server-sent events, one data line per frame.
func streamReply(c *gin.Context, r *Reply) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	_ = drainReply(r, func(ev replyEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
}
