package models

import (
	"time"
)

type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

func ValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationOpen, ConversationClosed, ConversationArchived:
		return true
	}
	return false
}

// FunnelStage is the sales-funnel position of a conversation. Journey stages
// (awareness/consideration/...) are a separate axis, see journey.go.
type FunnelStage string

const (
	StageInitialContact FunnelStage = "initial_contact"
	StageQualification  FunnelStage = "qualification"
	StageProposal       FunnelStage = "proposal"
	StageNegotiation    FunnelStage = "negotiation"
	StageClose          FunnelStage = "close"
)

func ValidFunnelStage(s FunnelStage) bool {
	switch s {
	case StageInitialContact, StageQualification, StageProposal, StageNegotiation, StageClose:
		return true
	}
	return false
}

type Conversation struct {
	ID             string                 `db:"id"`
	TeamID         string                 `db:"team_id"`
	ContactPhone   string                 `db:"contact_phone"`
	ContactName    *string                `db:"contact_name"`
	Status         ConversationStatus     `db:"status"`
	Stage          FunnelStage            `db:"stage"`
	AssignedTo     *string                `db:"assigned_to"`
	UnreadCount    int                    `db:"unread_count"`
	MessageCount   int                    `db:"message_count"`
	FirstMessageAt time.Time              `db:"first_message_at"`
	LastMessageAt  time.Time              `db:"last_message_at"`
	CreatedAt      time.Time              `db:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at"`
	Metadata       map[string]interface{} `db:"metadata"`
}

type UpdateConversationRequest struct {
	Status     *ConversationStatus    `json:"status,omitempty"`
	Stage      *FunnelStage           `json:"stage,omitempty"`
	AssignedTo *string                `json:"assignedTo,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type ConversationFilter struct {
	Status []ConversationStatus
	Stage  []FunnelStage
	Search string
	Limit  int
	Offset int
}
