package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
)

// HELLO (follower -> host)
type HelloMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ParticipantID   uuid.UUID `json:"participant_id"`
	Name            string    `json:"name,omitempty"`
}

// WELCOME (host -> follower)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	HostID          uuid.UUID `json:"host_id"`
	CatalogDigest   string    `json:"catalog_digest,omitempty"`
}

// DESIGNATIONS (host -> follower). A full message replaces the follower's map;
// otherwise entries are applied on top and a nil participant removes the entry.
type DesignationsMsg struct {
	Type            string               `json:"type"`
	ProtocolVersion string               `json:"protocol_version"`
	Full            bool                 `json:"full"`
	Seq             uint64               `json:"seq"`
	Entries         map[string]uuid.UUID `json:"entries"`
}

// DESIGNATE (follower -> host) asks the host to credit a participant.
type DesignateMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ObjectiveID     string    `json:"objective_id"`
	ParticipantID   uuid.UUID `json:"participant_id"`
}

// CONTRIBUTION (follower -> host) carries the sender's full ledger.
type ContributionMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Contribution    json.RawMessage `json:"contribution"`
}

// ERROR (host -> follower)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
