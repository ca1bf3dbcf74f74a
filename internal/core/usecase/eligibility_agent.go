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

const (
	defaultTrialTitle    = "the clinical trial"
	defaultTrialCriteria = "No criteria provided."

	introductionRequest = "Introduce yourself and ask the first eligibility question."
)

// EligibilityAgentUseCase runs server-side screening conversations, one
// history per session id.
type EligibilityAgentUseCase struct {
	model       ports.ChatModel
	transcripts ports.TranscriptStore
	plain       ports.PlainTexter
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*agentSession
}

type agentSession struct {
	mu          sync.Mutex
	nctID       string
	instruction string
	history     []domain.ChatMessage
	seq         int
}

func NewEligibilityAgentUseCase(model ports.ChatModel, transcripts ports.TranscriptStore, plain ports.PlainTexter) *EligibilityAgentUseCase {
	return &EligibilityAgentUseCase{
		model:       model,
		transcripts: transcripts,
		plain:       plain,
		now:         time.Now,
		sessions:    make(map[string]*agentSession),
	}
}

func (uc *EligibilityAgentUseCase) Configured() bool {
	return uc != nil && uc.model != nil
}

// Open starts a session from a start or init frame and returns the model's
// introduction.
func (uc *EligibilityAgentUseCase) Open(ctx context.Context, sessionID, nctID string, frame domain.ChatFrame) (string, error) {
	if !uc.Configured() {
		return "", domain.WrapError(domain.ErrNotConfigured, "eligibility open", errors.New("no chat model"))
	}
	title, criteria := uc.trialContext(frame)
	if nctID == "" && frame.Trial != nil {
		nctID = frame.Trial.NCTID
	}

	session := &agentSession{
		nctID:       nctID,
		instruction: BuildEligibilityInstruction(title, criteria),
	}
	uc.mu.Lock()
	uc.sessions[sessionID] = session
	uc.mu.Unlock()

	return uc.exchange(ctx, sessionID, session, introductionRequest)
}

// Reply sends one user turn of an open session.
func (uc *EligibilityAgentUseCase) Reply(ctx context.Context, sessionID, text string) (string, error) {
	uc.mu.Lock()
	session, ok := uc.sessions[sessionID]
	uc.mu.Unlock()
	if !ok {
		return "", domain.WrapError(domain.ErrNotConnected, "eligibility reply", fmt.Errorf("session %s not started", sessionID))
	}
	return uc.exchange(ctx, sessionID, session, text)
}

func (uc *EligibilityAgentUseCase) Close(sessionID string) {
	uc.mu.Lock()
	delete(uc.sessions, sessionID)
	uc.mu.Unlock()
}

// exchange appends the user turn, asks the model and appends its answer. A
// failed model call leaves the history as it was.
func (uc *EligibilityAgentUseCase) exchange(ctx context.Context, sessionID string, session *agentSession, text string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	userMsg := domain.ChatMessage{Role: domain.RoleUser, Text: text, Timestamp: uc.now().UTC()}
	history := append(append([]domain.ChatMessage(nil), session.history...), userMsg)

	reply, err := uc.model.Reply(ctx, session.instruction, history)
	if err != nil {
		return "", fmt.Errorf("eligibility reply: %w", err)
	}
	modelMsg := domain.ChatMessage{Role: domain.RoleModel, Text: reply, Timestamp: uc.now().UTC()}
	session.history = append(history, modelMsg)

	uc.record(ctx, sessionID, session, userMsg)
	uc.record(ctx, sessionID, session, modelMsg)
	return reply, nil
}

func (uc *EligibilityAgentUseCase) record(ctx context.Context, sessionID string, session *agentSession, msg domain.ChatMessage) {
	session.seq++
	if uc.transcripts == nil {
		return
	}
	entry := domain.TranscriptEntry{SessionID: sessionID, NCTID: session.nctID, Seq: session.seq, Message: msg}
	if err := uc.transcripts.AppendTranscript(ctx, entry); err != nil {
		slog.Warn("transcript_append_failed", "session_id", sessionID, "seq", entry.Seq, "error", err)
	}
}

func (uc *EligibilityAgentUseCase) trialContext(frame domain.ChatFrame) (string, string) {
	var title, criteria string
	switch {
	case frame.Context != nil:
		title, criteria = frame.Context.Title, frame.Context.Criteria
	case frame.Trial != nil:
		title, criteria = frame.Trial.BriefTitle, frame.Trial.EligibilityCriteria
		if title == "" {
			title = frame.Trial.OfficialTitle
		}
	}
	if strings.TrimSpace(title) == "" {
		title = defaultTrialTitle
	}
	if uc.plain != nil && criteria != "" {
		criteria = uc.plain.PlainText(criteria)
	}
	if strings.TrimSpace(criteria) == "" {
		criteria = defaultTrialCriteria
	}
	return title, criteria
}

// BuildEligibilityInstruction is the system instruction of a screening chat.
func BuildEligibilityInstruction(title, criteria string) string {
	return fmt.Sprintf(`You are a clinical trial eligibility assistant for the study %q.
Help the user understand whether they might qualify, based only on the protocol criteria below.

STUDY CRITERIA:
%s

PROTOCOL:
1. Greet the user and explain your role.
2. Ask eligibility questions one at a time. Never list them all at once.
3. If an answer clearly makes the user ineligible, explain which criterion excludes them and stop screening.
4. If the user still seems eligible after the questions, give a short summary.
5. Always state that this is not medical advice and that the trial team or their doctor must confirm eligibility.
6. Stay professional, empathetic and concise.
`, title, criteria)
}
