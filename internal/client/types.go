package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// timestampLayouts are the formats the service emits. Naive timestamps (no zone)
// are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp decodes the service's datetime fields, with or without a zone.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339 and naive ISO 8601 datetimes. null leaves the zero value.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON writes RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// =============================================================================
// AUTH
// =============================================================================

// User is the authenticated account.
type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	Plan      string    `json:"plan"`
	CreatedAt Timestamp `json:"created_at"`
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterInput is the input for creating an account.
type RegisterInput struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName *string `json:"full_name,omitempty"`
}

// =============================================================================
// BOTS
// =============================================================================

// Bot status values.
const (
	BotStatusDraft    = "draft"
	BotStatusTraining = "training"
	BotStatusActive   = "active"
	BotStatusTrained  = "trained"
	BotStatusError    = "error"
)

// Bot is a chatbot owned by the user.
type Bot struct {
	ID          int        `json:"id"`
	UserID      int        `json:"user_id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	Language    string     `json:"language"`
	Status      string     `json:"status"`
	ModelPath   *string    `json:"model_path,omitempty"`
	CreatedAt   Timestamp  `json:"created_at"`
	UpdatedAt   *Timestamp `json:"updated_at,omitempty"`
}

// Chattable reports whether the bot has a model that can answer messages.
func (b Bot) Chattable() bool {
	return b.Status == BotStatusActive || b.Status == BotStatusTrained
}

// BotInput is the input for creating a bot.
type BotInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Language    string  `json:"language,omitempty"`
}

// BotUpdate is the input for updating a bot. Nil fields are left unchanged.
type BotUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Language    *string `json:"language,omitempty"`
}

// =============================================================================
// TRAINING DATA
// =============================================================================

// TrainingDataItem is one user/bot example pair.
type TrainingDataItem struct {
	UserMessage string  `json:"user_message"`
	BotResponse string  `json:"bot_response"`
	Intent      *string `json:"intent,omitempty"`
}

// TrainingData is a stored example pair.
type TrainingData struct {
	ID          int       `json:"id"`
	BotID       int       `json:"bot_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Intent      *string   `json:"intent,omitempty"`
	CreatedAt   Timestamp `json:"created_at"`
}

// TrainingSession is a record from the legacy synchronous training endpoint.
type TrainingSession struct {
	ID             int        `json:"id"`
	BotID          int        `json:"bot_id"`
	Status         string     `json:"status"`
	Accuracy       *float64   `json:"accuracy,omitempty"`
	VocabularySize *int       `json:"vocabulary_size,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartedAt      Timestamp  `json:"started_at"`
	CompletedAt    *Timestamp `json:"completed_at,omitempty"`
}

// =============================================================================
// TRAINING JOBS
// =============================================================================

// JobStatus represents the state of a training job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a cancel request is meaningful.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// LogLevel is the severity of a training log entry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// TrainingJob is one asynchronous training run for a bot.
type TrainingJob struct {
	ID              int            `json:"id"`
	BotID           int            `json:"bot_id"`
	Status          JobStatus      `json:"status"`
	Progress        int            `json:"progress"`
	StartedAt       *Timestamp     `json:"started_at,omitempty"`
	CompletedAt     *Timestamp     `json:"completed_at,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	ModelPath       *string        `json:"model_path,omitempty"`
	Metrics         map[string]any `json:"metrics,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	CreatedAt       Timestamp      `json:"created_at"`
	UpdatedAt       *Timestamp     `json:"updated_at,omitempty"`
	Logs            []TrainingLog  `json:"logs,omitempty"`
}

// Duration returns the run time, preferring the server-reported value and
// falling back to CompletedAt - StartedAt. ok is false while it is unknown.
func (j *TrainingJob) Duration() (d time.Duration, ok bool) {
	if j.DurationSeconds != nil {
		return time.Duration(*j.DurationSeconds) * time.Second, true
	}
	if j.StartedAt == nil || j.CompletedAt == nil || j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0, false
	}
	return j.CompletedAt.Sub(j.StartedAt.Time), true
}

// TrainingLog is one append-only log line of a training job.
type TrainingLog struct {
	ID        int       `json:"id"`
	JobID     int       `json:"training_job_id"`
	Timestamp Timestamp `json:"timestamp"`
	Level     LogLevel  `json:"log_level"`
	Message   string    `json:"message"`
	Source    *string   `json:"source,omitempty"`
}

// LogOptions configures log retrieval.
type LogOptions struct {
	Limit  int
	Offset int
	Level  LogLevel
}

// =============================================================================
// CHAT & CONVERSATIONS
// =============================================================================

// ChatRequest is one user turn sent to the reply endpoint.
type ChatRequest struct {
	Message   string
	SessionID string
	Save      bool
}

// ChatReply is the bot's answer to one user turn.
type ChatReply struct {
	Message    string   `json:"message"`
	Intent     *string  `json:"intent,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ConversationSummary is one entry of a bot's conversation history.
type ConversationSummary struct {
	ConversationID int        `json:"conversation_id"`
	SessionID      string     `json:"session_id"`
	MessageCount   int        `json:"message_count"`
	StartedAt      Timestamp  `json:"started_at"`
	EndedAt        *Timestamp `json:"ended_at,omitempty"`
	Preview        *string    `json:"preview,omitempty"`
}

// ConversationMessage is one persisted message.
type ConversationMessage struct {
	ID             int            `json:"id"`
	ConversationID int            `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Message        string         `json:"message"`
	Intent         *string        `json:"intent,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Timestamp      Timestamp      `json:"timestamp"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
}

// Conversation is a persisted session with its messages.
type Conversation struct {
	ID           int                   `json:"id"`
	BotID        int                   `json:"bot_id"`
	SessionID    string                `json:"session_id"`
	MessageCount int                   `json:"message_count"`
	CreatedAt    Timestamp             `json:"created_at"`
	EndedAt      *Timestamp            `json:"ended_at,omitempty"`
	Messages     []ConversationMessage `json:"messages"`
}
