package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ChatRole string

const (
	RoleUser   ChatRole = "user"
	RoleModel  ChatRole = "model"
	RoleSystem ChatRole = "system"
)

type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusConnected  ConnectionStatus = "connected"
	StatusError      ConnectionStatus = "error"
	StatusClosed     ConnectionStatus = "closed"
)

type FrameType string

const (
	FrameInit    FrameType = "init"
	FrameStart   FrameType = "start"
	FrameMessage FrameType = "message"
	FrameTyping  FrameType = "typing"
	FrameError   FrameType = "error"
)

// ChatFrame is the JSON text frame exchanged over the eligibility channel.
type ChatFrame struct {
	Type    FrameType     `json:"type"`
	Text    string        `json:"text,omitempty"`
	Context *ChatContext  `json:"context,omitempty"`
	Trial   *TrialContext `json:"trial,omitempty"`
}

// ChatContext is the compact initiation payload of a "start" frame.
type ChatContext struct {
	Title    string `json:"title"`
	Criteria string `json:"criteria"`
}

// TrialContext is the full initiation payload of an "init" frame.
type TrialContext struct {
	NCTID                 string `json:"nctId"`
	BriefTitle            string `json:"moduleBriefTitle"`
	OfficialTitle         string `json:"moduleOfficialTitle,omitempty"`
	OverallStatus         string `json:"overallStatus,omitempty"`
	BriefSummary          string `json:"briefSummary,omitempty"`
	EligibilityCriteria   string `json:"eligibilityCriteria,omitempty"`
	EligibilityMinimumAge int    `json:"eligibilityMinimumAge"`
	EligibilityMaximumAge int    `json:"eligibilityMaximumAge"`
	Conditions            string `json:"conditions,omitempty"`
}

const MissingCriteriaPlaceholder = "No criteria specified in protocol."

// StartFrame builds the initiation frame for a trial.
func StartFrame(trial FlattenedTrial) ChatFrame {
	criteria := trial.EligibilityCriteria
	if criteria == "" {
		criteria = MissingCriteriaPlaceholder
	}
	return ChatFrame{
		Type:    FrameStart,
		Context: &ChatContext{Title: trial.BriefTitle, Criteria: criteria},
	}
}

// InitFrame builds the full-context variant of the initiation frame.
func InitFrame(trial FlattenedTrial) ChatFrame {
	return ChatFrame{
		Type: FrameInit,
		Trial: &TrialContext{
			NCTID:                 trial.NCTID,
			BriefTitle:            trial.BriefTitle,
			OfficialTitle:         trial.OfficialTitle,
			OverallStatus:         trial.OverallStatus,
			BriefSummary:          trial.BriefSummary,
			EligibilityCriteria:   trial.EligibilityCriteria,
			EligibilityMinimumAge: trial.EligibilityMinimumAge,
			EligibilityMaximumAge: trial.EligibilityMaximumAge,
			Conditions:            trial.Conditions,
		},
	}
}

// ChatSnapshot is a read-only view of a client chat session.
type ChatSnapshot struct {
	TrialID  string           `json:"trial_id"`
	Status   ConnectionStatus `json:"status"`
	Typing   bool             `json:"typing"`
	Messages []ChatMessage    `json:"messages"`
}

// TranscriptEntry is one persisted line of a server-side eligibility session.
type TranscriptEntry struct {
	SessionID string      `json:"session_id"`
	NCTID     string      `json:"nct_id"`
	Seq       int         `json:"seq"`
	Message   ChatMessage `json:"message"`
}

// MalformedFrameError marks an incoming frame that could not be decoded.
// The session drops such frames and keeps reading.
type MalformedFrameError struct {
	Payload string
	Err     error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed chat frame %q: %v", e.Payload, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// DecodeChatFrame parses one JSON text frame. Frames that are not JSON or
// carry no type yield a *MalformedFrameError.
func DecodeChatFrame(payload string) (ChatFrame, error) {
	var frame ChatFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return ChatFrame{}, &MalformedFrameError{Payload: truncate(payload, 200), Err: err}
	}
	if frame.Type == "" {
		return ChatFrame{}, &MalformedFrameError{Payload: truncate(payload, 200), Err: errors.New("missing frame type")}
	}
	return frame, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
