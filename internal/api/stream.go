package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleStream sends a scan's findings over a websocket: first everything
// already recorded, then new findings as they are produced. The connection
// closes once the scan reaches a terminal status. Findings recorded by
// workers in other processes are picked up by re-reading the store.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	scanID := c.Param("id")

	if _, err := s.svc.GetScan(ctx, scanID); err != nil {
		s.writeError(c, err)
		return
	}

	var events <-chan orchestrator.Event
	if broker := s.svc.Events(); broker != nil {
		ch, release := broker.Subscribe(scanID)
		defer release()
		events = ch
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debugw("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.WithScanID(scanID)
	log.Debugw("Finding stream opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readPump(conn, cancel)

	st := &streamState{conn: conn}

	ticker := time.NewTicker(s.streamPoll)
	defer ticker.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	// Initial catch-up.
	if done, err := s.catchUp(ctx, st, scanID); err != nil || done {
		st.close(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case orchestrator.EventFinding:
				if ev.Finding.Sequence >= st.next {
					if err := st.send(ev); err != nil {
						return
					}
					st.next = ev.Finding.Sequence + 1
				}
			case orchestrator.EventFailure:
				if err := st.send(ev); err != nil {
					return
				}
			case orchestrator.EventStatus:
				if ev.Status.Terminal() {
					// Catch up anything the broker dropped before closing.
					_, err := s.catchUp(ctx, st, scanID)
					st.close(err)
					return
				}
				if err := st.send(ev); err != nil {
					return
				}
			}

		case <-ticker.C:
			if done, err := s.catchUp(ctx, st, scanID); err != nil || done {
				st.close(err)
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

type streamState struct {
	conn *websocket.Conn
	next int
}

func (st *streamState) send(ev orchestrator.Event) error {
	_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return st.conn.WriteJSON(ev)
}

func (st *streamState) close(err error) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished")
	if err != nil {
		msg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream error")
	}
	_ = st.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// catchUp sends stored findings not yet streamed and reports whether the scan
// has finished; a finished scan also gets its final status event.
func (s *Server) catchUp(ctx context.Context, st *streamState, scanID string) (bool, error) {
	scan, err := s.svc.GetScan(ctx, scanID)
	if err != nil {
		return false, err
	}
	findings, err := s.svc.GetFindings(ctx, scanID)
	if err != nil {
		return false, err
	}

	for i := range findings {
		f := findings[i]
		if f.Sequence < st.next {
			continue
		}
		if err := st.send(orchestrator.Event{Type: orchestrator.EventFinding, ScanID: scanID, Finding: &f}); err != nil {
			return false, err
		}
		st.next = f.Sequence + 1
	}

	if scan.Status.Terminal() {
		return true, st.send(orchestrator.Event{Type: orchestrator.EventStatus, ScanID: scanID, Status: scan.Status})
	}
	return false, nil
}

// readPump drains client frames so control messages are processed and
// cancels the stream when the client goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
