package core

// InboundType enumerates the envelope types clients may send.
type InboundType string

const (
	// InboundUserMessage carries human text that starts the orchestration
	// pipeline.
	InboundUserMessage InboundType = "user_message"
	// InboundAgentAdded announces a new session member to other clients.
	InboundAgentAdded InboundType = "agent_added"
	// InboundDirectMessage carries an agent-to-agent message.
	InboundDirectMessage InboundType = "direct_message"
)

// InboundEnvelope is the wire shape of a client-originated message. Unknown
// Type values produce an error envelope delivered only to the originating
// connection.
type InboundEnvelope struct {
	Type        InboundType `json:"type"`
	SessionID   string      `json:"session_id"`
	ClientID    string      `json:"client_id"`
	Content     string      `json:"content,omitempty"`
	AgentID     string      `json:"agent_id,omitempty"`
	RecipientID string      `json:"recipient_id,omitempty"`
	Private     bool        `json:"private,omitempty"`
}

// OutboundType enumerates the envelope types delivered to clients.
type OutboundType string

const (
	// OutboundAgentMessage carries an agent-authored message.
	OutboundAgentMessage OutboundType = "agent_message"
	// OutboundNotification carries a system announcement.
	OutboundNotification OutboundType = "notification"
	// OutboundError carries an error addressed to one connection.
	OutboundError OutboundType = "error"
)

// OutboundEnvelope is the wire shape of a server-originated message.
type OutboundEnvelope struct {
	Type OutboundType   `json:"type"`
	Data map[string]any `json:"data"`
}

// NewAgentMessageEnvelope wraps a persisted agent message for delivery,
// attaching the authoring persona's display identity.
func NewAgentMessageEnvelope(msg Message, personaName, personaRole string) OutboundEnvelope {
	data := map[string]any{
		"id":         msg.ID,
		"content":    msg.Content,
		"agent_name": personaName,
		"agent_role": personaRole,
		"seq":        msg.Seq,
		"timestamp":  msg.CreatedAt,
	}
	if msg.ParentID != nil {
		data["parent_id"] = *msg.ParentID
	}
	return OutboundEnvelope{Type: OutboundAgentMessage, Data: data}
}

// NewNotificationEnvelope wraps a system announcement.
func NewNotificationEnvelope(content string) OutboundEnvelope {
	return OutboundEnvelope{Type: OutboundNotification, Data: map[string]any{"content": content}}
}

// NewErrorEnvelope wraps an error message for targeted delivery.
func NewErrorEnvelope(message string) OutboundEnvelope {
	return OutboundEnvelope{Type: OutboundError, Data: map[string]any{"message": message}}
}
