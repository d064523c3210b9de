package handler

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"redeem/internal/eventbus"
	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
	"redeem/pkg/platform/audit"
	"redeem/pkg/platform/httputil"
	"redeem/pkg/requestcontext"
)

const (
	frameSubscribed = "subscribed"
	frameEvent      = "event"
)

// StreamFrame is one websocket message on a subscription stream.
type StreamFrame struct {
	Type           string               `json:"type"`
	SubscriptionID string               `json:"subscription_id,omitempty"`
	Topic          string               `json:"topic,omitempty"`
	Event          *models.Notification `json:"event,omitempty"`
}

// HandleSubscribe handles GET /subscriptions/{kind}/{id}. It upgrades to a
// websocket and streams notifications for the topic until either side closes.
// The first frame confirms the subscription is registered.
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	topic, err := id.NewTopic(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestID,
			"topic", topic.String(),
			"error", err,
		)
		return
	}
	defer conn.CloseNow()

	// Client frames are ignored; reading detects the peer going away.
	ctx = conn.CloseRead(ctx)

	sub, err := h.subscriber.Subscribe(ctx, topic)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe failed",
			"request_id", requestID,
			"topic", topic.String(),
			"error", err,
		)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer h.subscriber.Unsubscribe(sub.ID())

	h.logger.InfoContext(ctx, "subscriber connected",
		"request_id", requestID,
		"subscription_id", sub.ID(),
		"topic", topic.String(),
	)

	if err := h.writeFrame(ctx, conn, StreamFrame{
		Type:           frameSubscribed,
		SubscriptionID: string(sub.ID()),
		Topic:          topic.String(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case msg, ok := <-sub.C():
			if !ok {
				h.closeEnded(ctx, conn, sub)
				return
			}
			payload := msg.Payload
			if err := h.writeFrame(ctx, conn, StreamFrame{Type: frameEvent, Event: &payload}); err != nil {
				h.logger.DebugContext(ctx, "subscriber write failed",
					"subscription_id", sub.ID(),
					"error", err,
				)
				return
			}
		}
	}
}

func (h *Handler) writeFrame(ctx context.Context, conn *websocket.Conn, frame StreamFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}

// closeEnded closes the socket once the bus ended the subscription. An
// overflow disconnect tells the client to reconnect and resynchronize.
func (h *Handler) closeEnded(ctx context.Context, conn *websocket.Conn, sub *eventbus.Subscription[models.Notification]) {
	err := sub.Err()
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		return
	}

	h.logger.WarnContext(ctx, "subscriber disconnected",
		"request_id", requestcontext.RequestID(ctx),
		"subscription_id", sub.ID(),
		"topic", sub.Topic().String(),
		"code", dErrors.CodeOf(err),
	)
	if h.auditPublisher != nil {
		if auditErr := h.auditPublisher.Emit(ctx, audit.Event{
			Action:    string(audit.EventSubscriberDisconnected),
			Decision:  string(dErrors.CodeOf(err)),
			Reason:    sub.Topic().String(),
			RequestID: requestcontext.RequestID(ctx),
			ClientIP:  requestcontext.ClientIP(ctx),
			Device:    requestcontext.Device(ctx),
		}); auditErr != nil {
			h.logger.ErrorContext(ctx, "failed to emit audit event", "error", auditErr)
		}
	}
	_ = conn.Close(websocket.StatusTryAgainLater, string(dErrors.CodeOf(err)))
}
