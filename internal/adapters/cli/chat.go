package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/usecase"
)

func newChatCommand(services Services) *cobra.Command {
	var replyTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "chat [nct-id]",
		Short: "Screen eligibility for one trial in an interactive chat",
		Long: `Opens an eligibility screening chat for a trial. Each line read from stdin
is sent as one answer. Type /retry to reconnect after an error and /quit to
leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, services, args[0], replyTimeout)
		},
	}
	cmd.Flags().DurationVar(&replyTimeout, "reply-timeout", 90*time.Second, "how long to wait for the assistant after each line")
	return cmd
}

// chatPrinter writes every non-user message once, in history order.
type chatPrinter struct {
	mu      sync.Mutex
	cmd     *cobra.Command
	printed int
	status  domain.ConnectionStatus
}

func (p *chatPrinter) onChange(snapshot domain.ChatSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ; p.printed < len(snapshot.Messages); p.printed++ {
		msg := snapshot.Messages[p.printed]
		switch msg.Role {
		case domain.RoleModel:
			p.cmd.Printf("assistant> %s\n", msg.Text)
		case domain.RoleSystem:
			p.cmd.Printf("system> %s\n", msg.Text)
		}
	}
	if len(snapshot.Messages) < p.printed {
		p.printed = len(snapshot.Messages)
	}
	if snapshot.Status != p.status {
		p.status = snapshot.Status
		if snapshot.Status == domain.StatusError {
			p.cmd.Println("Connection lost. Type /retry to reconnect.")
		}
	}
}

func runChat(cmd *cobra.Command, services Services, nctID string, replyTimeout time.Duration) error {
	if services.Trials == nil || services.Dialer == nil {
		return errors.New("chat not configured")
	}
	ctx := cmd.Context()
	trial, err := services.Trials.FetchTrial(ctx, nctID)
	if err != nil {
		return fmt.Errorf("fetch trial: %s", domain.PublicMessage(err, "request failed"))
	}

	printer := &chatPrinter{cmd: cmd}
	chat := usecase.NewEligibilityChat(services.Dialer, usecase.EligibilityChatOptions{
		UseInitFrame: services.UseInitFrame,
		OnChange:     printer.onChange,
	})
	defer chat.Close()

	cmd.Printf("Screening for %s: %s\n", trial.NCTID, trial.BriefTitle)
	if err := chat.Open(ctx, *trial); err != nil {
		cmd.PrintErrf("open chat: %s\n", domain.PublicMessage(err, "connection failed"))
	}
	waitForReply(ctx, chat, 0, replyTimeout)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/retry":
			if err := chat.Retry(ctx); err != nil {
				cmd.PrintErrf("retry: %s\n", domain.PublicMessage(err, "connection failed"))
			}
			waitForReply(ctx, chat, 0, replyTimeout)
			continue
		}

		before := replyCount(chat.Snapshot())
		sent, err := chat.Send(ctx, line)
		switch {
		case errors.Is(err, domain.ErrNotConnected):
			cmd.Println("Not connected. Type /retry to reconnect.")
		case err != nil:
			cmd.PrintErrf("send: %s\n", domain.PublicMessage(err, "send failed"))
		case sent:
			waitForReply(ctx, chat, before, replyTimeout)
		}
	}
	return scanner.Err()
}

// waitForReply blocks until the assistant has answered beyond the first
// `seen` replies, the session fails, or timeout passes.
func waitForReply(ctx context.Context, chat *usecase.EligibilityChat, seen int, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		snapshot := chat.Snapshot()
		if snapshot.Status == domain.StatusError || snapshot.Status == domain.StatusClosed {
			return
		}
		if snapshot.Status == domain.StatusConnected && !snapshot.Typing && replyCount(snapshot) > seen {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func replyCount(snapshot domain.ChatSnapshot) int {
	n := 0
	for _, msg := range snapshot.Messages {
		if msg.Role != domain.RoleUser {
			n++
		}
	}
	return n
}
