package wsclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

const (
	perTrialPath = "/ws/verify/"
	sharedPath   = "/ws/eligibility"
)

// Dialer opens eligibility channels against a trialmatch API. With Shared
// set it uses the single /ws/eligibility endpoint, otherwise the per-trial
// /ws/verify/{nct_id} endpoint.
type Dialer struct {
	BaseURL string
	Shared  bool
}

func NewDialer(baseURL string, shared bool) *Dialer {
	return &Dialer{BaseURL: strings.TrimRight(baseURL, "/"), Shared: shared}
}

func (d *Dialer) Endpoint(nctID string) (string, error) {
	base, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse chat base url: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported chat url scheme %q", base.Scheme)
	}
	path := strings.TrimRight(base.Path, "/")
	if d.Shared || strings.TrimSpace(nctID) == "" {
		base.Path = path + sharedPath
	} else {
		base.Path = path + perTrialPath + url.PathEscape(nctID)
	}
	return base.String(), nil
}

func (d *Dialer) Dial(ctx context.Context, trial domain.FlattenedTrial) (ports.ChatConn, error) {
	endpoint, err := d.Endpoint(trial.NCTID)
	if err != nil {
		return nil, err
	}
	origin := strings.Replace(strings.Replace(d.BaseURL, "wss://", "https://", 1), "ws://", "http://", 1)
	config, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	ws, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}
	return &Conn{ws: ws}, nil
}

// Conn is one live eligibility websocket.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closeMu sync.Once
}

func (c *Conn) Send(ctx context.Context, frame domain.ChatFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return websocket.JSON.Send(c.ws, frame)
}

// Receive blocks for the next frame. Undecodable payloads come back as
// *domain.MalformedFrameError so the caller can drop them and keep reading.
func (c *Conn) Receive(ctx context.Context) (domain.ChatFrame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	var payload string
	if err := websocket.Message.Receive(c.ws, &payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ChatFrame{}, ctxErr
		}
		return domain.ChatFrame{}, err
	}
	return domain.DecodeChatFrame(payload)
}

func (c *Conn) Close() error {
	var err error
	c.closeMu.Do(func() {
		err = c.ws.Close()
	})
	return err
}
