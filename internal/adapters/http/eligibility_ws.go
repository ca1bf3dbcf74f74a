package httpadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

const (
	configErrorText   = "Backend configuration error. Please contact support."
	internalErrorText = "Sorry, I encountered an internal error. Please try again later."
)

// eligibilitySocket serves one screening conversation per connection. The
// path variant carries the trial id; the shared variant takes it from the
// init frame.
func (rt *Router) eligibilitySocket() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nctID := r.PathValue("nct_id")
		server := websocket.Server{
			// Browsers on any origin may open the chat, like the REST API.
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(ws *websocket.Conn) {
				rt.serveEligibility(ws, nctID)
			},
		}
		server.ServeHTTP(w, r)
	})
}

type chatSocket struct {
	ws        *websocket.Conn
	sessionID string
	rt        *Router
}

func (s *chatSocket) send(frame domain.ChatFrame) error {
	if err := websocket.JSON.Send(s.ws, frame); err != nil {
		return err
	}
	if s.rt.metrics != nil {
		s.rt.metrics.RecordChatFrame(serviceName, "out", frame.Type)
	}
	return nil
}

func (rt *Router) serveEligibility(ws *websocket.Conn, nctID string) {
	defer ws.Close()

	if rt.metrics != nil {
		rt.metrics.ChatSessionOpened()
		defer rt.metrics.ChatSessionClosed()
	}

	sock := &chatSocket{ws: ws, sessionID: uuid.NewString(), rt: rt}
	logger := slog.With("session_id", sock.sessionID, "nct_id", nctID)

	if rt.agent == nil || !rt.llmConfigured {
		logger.Error("eligibility_chat_not_configured")
		_ = sock.send(domain.ChatFrame{Type: domain.FrameError, Text: configErrorText})
		return
	}
	defer rt.agent.Close(sock.sessionID)

	// The request context ends with the handler, which outlives the socket.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := false
	for {
		var payload string
		if err := websocket.Message.Receive(ws, &payload); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("eligibility_chat_receive_failed", "error", err)
			}
			logger.Info("eligibility_chat_closed")
			return
		}

		frame, err := domain.DecodeChatFrame(payload)
		if err != nil {
			logger.Warn("eligibility_chat_frame_dropped", "error", err)
			continue
		}
		if rt.metrics != nil {
			rt.metrics.RecordChatFrame(serviceName, "in", frame.Type)
		}

		var reply string
		switch frame.Type {
		case domain.FrameStart, domain.FrameInit:
			if err := sock.send(domain.ChatFrame{Type: domain.FrameTyping}); err != nil {
				logger.Warn("eligibility_chat_send_failed", "error", err)
				return
			}
			reply, err = rt.agent.Open(ctx, sock.sessionID, nctID, frame)
			if err == nil {
				opened = true
			}
		case domain.FrameMessage:
			if !opened {
				logger.Debug("eligibility_chat_message_before_start")
				continue
			}
			if err := sock.send(domain.ChatFrame{Type: domain.FrameTyping}); err != nil {
				logger.Warn("eligibility_chat_send_failed", "error", err)
				return
			}
			reply, err = rt.agent.Reply(ctx, sock.sessionID, frame.Text)
		default:
			logger.Debug("eligibility_chat_frame_ignored", "type", frame.Type)
			continue
		}

		if rt.metrics != nil {
			rt.metrics.RecordChatReply(serviceName, err)
		}
		if err != nil {
			logger.Error("eligibility_chat_model_failed", "error", err)
			_ = sock.send(domain.ChatFrame{Type: domain.FrameMessage, Text: internalErrorText})
			return
		}
		if err := sock.send(domain.ChatFrame{Type: domain.FrameMessage, Text: reply}); err != nil {
			logger.Warn("eligibility_chat_send_failed", "error", err)
			return
		}
	}
}
