package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

type EligibilityChatOptions struct {
	// UseInitFrame sends the full trial payload instead of the compact
	// title/criteria context.
	UseInitFrame bool
	OnChange     func(domain.ChatSnapshot)
	Now          func() time.Time
}

// EligibilityChat is the client side of one eligibility conversation. It owns
// at most one live transport; opening a new one always closes the previous
// one first. Status moves connecting -> connected -> error and only leaves
// error through Open or Retry. Close moves any status to closed.
type EligibilityChat struct {
	dialer       ports.ChatDialer
	useInitFrame bool
	onChange     func(domain.ChatSnapshot)
	now          func() time.Time

	mu         sync.Mutex
	generation uint64
	trial      *domain.FlattenedTrial
	conn       ports.ChatConn
	cancel     context.CancelFunc
	status     domain.ConnectionStatus
	typing     bool
	messages   []domain.ChatMessage
}

func NewEligibilityChat(dialer ports.ChatDialer, options EligibilityChatOptions) *EligibilityChat {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &EligibilityChat{
		dialer:       dialer,
		useInitFrame: options.UseInitFrame,
		onChange:     options.OnChange,
		now:          now,
		status:       domain.StatusConnecting,
		messages:     []domain.ChatMessage{},
	}
}

// Open tears down any current transport, clears history and connects to the
// eligibility channel for trial.
func (c *EligibilityChat) Open(ctx context.Context, trial domain.FlattenedTrial) error {
	c.mu.Lock()
	c.teardownLocked()
	c.generation++
	gen := c.generation
	c.trial = &trial
	c.messages = []domain.ChatMessage{}
	c.typing = false
	c.status = domain.StatusConnecting
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snapshot)

	conn, err := c.dialer.Dial(ctx, trial)
	if err != nil {
		c.failGeneration(gen, fmt.Errorf("dial eligibility channel: %w", err))
		return domain.WrapError(domain.ErrTemporary, "eligibility open", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return domain.WrapError(domain.ErrNotConnected, "eligibility open", errors.New("session replaced while connecting"))
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.status = domain.StatusConnected
	snapshot = c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snapshot)

	frame := domain.StartFrame(trial)
	if c.useInitFrame {
		frame = domain.InitFrame(trial)
	}
	if err := conn.Send(ctx, frame); err != nil {
		c.failGeneration(gen, fmt.Errorf("send initiation frame: %w", err))
		return domain.WrapError(domain.ErrTemporary, "eligibility open", err)
	}

	go c.readLoop(readCtx, gen, conn)
	return nil
}

// Retry reconnects to the current trial from scratch.
func (c *EligibilityChat) Retry(ctx context.Context) error {
	c.mu.Lock()
	trial := c.trial
	c.mu.Unlock()
	if trial == nil {
		return domain.WrapError(domain.ErrInvalidInput, "eligibility retry", errors.New("no trial selected"))
	}
	return c.Open(ctx, *trial)
}

// Send appends text as a user message and forwards it. Blank input or a
// session that is not connected is a no-op: nothing is sent or appended.
func (c *EligibilityChat) Send(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	c.mu.Lock()
	if c.status != domain.StatusConnected || c.conn == nil {
		c.mu.Unlock()
		return false, domain.WrapError(domain.ErrNotConnected, "eligibility send", fmt.Errorf("status %s", c.status))
	}
	gen := c.generation
	conn := c.conn
	c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleUser, Text: text, Timestamp: c.now()})
	c.typing = true
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snapshot)

	if err := conn.Send(ctx, domain.ChatFrame{Type: domain.FrameMessage, Text: text}); err != nil {
		c.failGeneration(gen, fmt.Errorf("send message frame: %w", err))
		return true, domain.WrapError(domain.ErrTemporary, "eligibility send", err)
	}
	return true, nil
}

// Close releases the transport. Late frames of the closed transport are
// ignored and Send is refused until the next Open or Retry.
func (c *EligibilityChat) Close() {
	c.mu.Lock()
	c.teardownLocked()
	c.generation++
	c.status = domain.StatusClosed
	c.typing = false
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snapshot)
}

func (c *EligibilityChat) Snapshot() domain.ChatSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *EligibilityChat) readLoop(ctx context.Context, gen uint64, conn ports.ChatConn) {
	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			var malformed *domain.MalformedFrameError
			if errors.As(err, &malformed) {
				slog.Warn("chat_frame_dropped", "generation", gen, "error", err)
				continue
			}
			c.failGeneration(gen, err)
			return
		}
		if !c.handleFrame(gen, frame) {
			return
		}
	}
}

// handleFrame applies one server frame. It reports false once the
// generation is no longer current.
func (c *EligibilityChat) handleFrame(gen uint64, frame domain.ChatFrame) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	switch frame.Type {
	case domain.FrameMessage:
		c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleModel, Text: frame.Text, Timestamp: c.now()})
		c.typing = false
	case domain.FrameTyping:
		c.typing = true
	case domain.FrameError:
		c.messages = append(c.messages, domain.ChatMessage{Role: domain.RoleSystem, Text: frame.Text, Timestamp: c.now()})
		c.typing = false
	default:
		c.mu.Unlock()
		slog.Warn("chat_frame_ignored", "generation", gen, "type", frame.Type)
		return true
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snapshot)
	return true
}

// failGeneration moves a still-current session into the terminal error
// status and releases its transport.
func (c *EligibilityChat) failGeneration(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.status = domain.StatusError
	c.typing = false
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	slog.Warn("chat_transport_failed", "generation", gen, "error", err)
	c.emit(snapshot)
}

func (c *EligibilityChat) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Debug("chat_transport_close_failed", "error", err)
		}
		c.conn = nil
	}
}

func (c *EligibilityChat) snapshotLocked() domain.ChatSnapshot {
	snapshot := domain.ChatSnapshot{
		Status:   c.status,
		Typing:   c.typing,
		Messages: make([]domain.ChatMessage, len(c.messages)),
	}
	copy(snapshot.Messages, c.messages)
	if c.trial != nil {
		snapshot.TrialID = c.trial.NCTID
	}
	return snapshot
}

func (c *EligibilityChat) emit(snapshot domain.ChatSnapshot) {
	if c.onChange != nil {
		c.onChange(snapshot)
	}
}
