package models

import (
	"time"
)

// TaskStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusQueued          = "queued"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusDone            = "done"
)

// Task represents a write task persisted in Postgres. Content stays nil
// until generation has run; TenantID never changes after creation.
type Task struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Brief     string    `json:"brief"`
	Tone      *string   `json:"tone"`
	Audience  *string   `json:"audience"`
	Status    string    `json:"status"`
	Content   *string   `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Job is the at-least-once queue envelope pointing at a task. The worker
// re-fetches the task before acting; a job's existence says nothing about
// the task's current status.
type Job struct {
	TaskID   string `json:"taskId"`
	TenantID string `json:"tenantId"`
}

// GeneratedPost is the structured output of one generation call.
type GeneratedPost struct {
	Content     string   `json:"content"`
	Hashtags    []string `json:"hashtags"`
	ImagePrompt string   `json:"image_prompt"`
}

// ApprovedPost is a style exemplar carried inside a brand profile.
type ApprovedPost struct {
	Content string `json:"content"`
	Channel string `json:"channel"`
}

// BrandProfile is read-only personalization data fetched from tenant-brain.
type BrandProfile struct {
	BusinessType     string         `json:"businessType"`
	BusinessName     string         `json:"businessName,omitempty"`
	City             string         `json:"city,omitempty"`
	Country          string         `json:"country,omitempty"`
	Languages        []string       `json:"languages"`
	MainGoal         string         `json:"mainGoal,omitempty"`
	TargetAudience   string         `json:"targetAudience,omitempty"`
	PositioningStyle string         `json:"positioningStyle,omitempty"`
	Tagline          string         `json:"tagline,omitempty"`
	UniqueValue      string         `json:"uniqueValue,omitempty"`
	PreferredTone    string         `json:"preferredTone"`
	ApprovedPosts    []ApprovedPost `json:"approvedPosts"`
}

// Hints are advisory generation-tuning signals from insights.
type Hints struct {
	Tone             string         `json:"tone,omitempty"`
	Style            string         `json:"style,omitempty"`
	AvoidPhrases     []string       `json:"avoidPhrases,omitempty"`
	PreferredPhrases []string       `json:"preferredPhrases,omitempty"`
	Extra            map[string]any `json:"-"`
}

// IsEmpty reports whether the hints carry no usable signal.
func (h Hints) IsEmpty() bool {
	return h.Tone == "" && h.Style == "" &&
		len(h.AvoidPhrases) == 0 && len(h.PreferredPhrases) == 0 && len(h.Extra) == 0
}

// Feedback types accepted on generated content.
const (
	FeedbackApproved  = "approved"
	FeedbackEdited    = "edited"
	FeedbackRejected  = "rejected"
	FeedbackPublished = "published"
)

// FeedbackInput is a caller's verdict on a piece of generated content.
type FeedbackInput struct {
	TenantID        string `json:"tenantId" validate:"required"`
	ContentID       string `json:"contentId" validate:"required"`
	FeedbackType    string `json:"feedbackType" validate:"required,oneof=approved edited rejected published"`
	Score           *int   `json:"score,omitempty" validate:"omitempty,min=1,max=5"`
	Comment         string `json:"comment,omitempty"`
	OriginalContent string `json:"originalContent,omitempty"`
	EditedContent   string `json:"editedContent,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

// Event is an audit record shipped to the events service.
type Event struct {
	TenantID   string         `json:"tenantId"`
	WorkflowID *string        `json:"workflowId"`
	EventType  string         `json:"eventType"`
	Source     string         `json:"source"`
	Value      float64        `json:"value"`
	Meta       map[string]any `json:"meta,omitempty"`
}
