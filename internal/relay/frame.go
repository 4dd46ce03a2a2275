package relay

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/deskchat/deskchat-server/internal/store"
)

// ControlConnect is the reserved message text clients send on their first
// frame to establish identity without producing a chat message. It is never
// persisted and never routed.
const ControlConnect = "__CONNECT__"

// Inbound is one frame received from a client.
type Inbound struct {
	UserPK      int64  `json:"user_pk"`
	Message     string `json:"message"`
	IsFromAdmin bool   `json:"is_from_admin"`
}

// IsControl reports whether the frame is the connect handshake marker.
func (in Inbound) IsControl() bool {
	return in.Message == ControlConnect
}

// ChatFrame is the outbound representation of a persisted message.
// FromCustomerPK is set only on frames fanned out to admins, so they can
// attribute the inquiry to a customer thread.
type ChatFrame struct {
	ID             int64  `json:"id"`
	UserPK         int64  `json:"user_pk"`
	Message        string `json:"message"`
	IsFromAdmin    bool   `json:"is_from_admin"`
	CreatedAt      string `json:"created_at"`
	FromCustomerPK int64  `json:"from_customer_pk,omitempty"`
}

// ErrorFrame reports a decode or routing failure in-band. It never closes
// the connection.
type ErrorFrame struct {
	Error string `json:"error"`
}

// NoticeFrame tells an admin that a targeted delivery failed, e.g. the
// customer went offline.
type NoticeFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func chatFrame(msg *store.ChatMessage) ChatFrame {
	return ChatFrame{
		ID:          msg.ID,
		UserPK:      msg.UserPK,
		Message:     msg.Message,
		IsFromAdmin: msg.IsFromAdmin,
		CreatedAt:   msg.CreatedAt.Format(time.RFC3339),
	}
}

func marshalFrame(v any) []byte {
	// The frame types marshal without error; a failure here is a bug.
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

func errorPayload(msg string) []byte {
	return marshalFrame(ErrorFrame{Error: msg})
}

func offlinePayload(customerPK int64, now time.Time) []byte {
	return marshalFrame(NoticeFrame{
		Type:      "error",
		Message:   "customer " + strconv.FormatInt(customerPK, 10) + " is currently offline",
		Timestamp: now.Format(time.RFC3339),
	})
}
