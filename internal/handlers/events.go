package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"voxlate/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// EventSource は進捗イベントの購読を提供する
type EventSource interface {
	Subscribe(jobID string) (<-chan events.Event, func())
}

// EventsHandler はジョブ進捗を WebSocket で配信する
type EventsHandler struct {
	svc      TranslationService
	source   EventSource
	upgrader websocket.Upgrader
}

// NewEventsHandler は新しいEventsHandlerを作成
func NewEventsHandler(svc TranslationService, source EventSource) *EventsHandler {
	return &EventsHandler{
		svc:    svc,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Stream は現在の状態を送った後、終端状態になるまで更新を送り続ける
// GET /api/translations/:id/events
func (h *EventsHandler) Stream(c echo.Context) error {
	jobID := c.Param("id")

	// 取りこぼしを防ぐため、状態を読む前に購読する
	ch, unsubscribe := h.source.Subscribe(jobID)
	defer unsubscribe()

	status, err := h.svc.Status(c.Request().Context(), jobID)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if status == nil {
		return jsonError(c, http.StatusNotFound, "translation not found")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade が応答を書き込み済み
		return nil
	}
	defer conn.Close()

	// クライアントからの切断を検知する
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := events.Event{
		JobID:     status.JobID,
		Status:    status.Status,
		Progress:  status.Progress,
		Step:      status.CurrentStep,
		Error:     status.ErrorMessage,
		Timestamp: time.Now().UTC(),
	}
	if err := writeEvent(conn, snapshot); err != nil || snapshot.Status.IsTerminal() {
		closeNormal(conn)
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(conn, ev); err != nil {
				return nil
			}
			if ev.Status.IsTerminal() {
				closeNormal(conn)
				return nil
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
