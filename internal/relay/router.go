package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/metrics"
	"github.com/deskchat/deskchat-server/internal/store"
)

// Sender identifies the connection a frame arrived on. The role was resolved
// at connect time and is trusted; the frame's own is_from_admin flag is not.
type Sender struct {
	UserPK  int64
	IsAdmin bool
	Handle  Handle
}

// Router enforces the routing policy for one inbound chat frame: persist
// first, then deliver. Admin messages go to the single customer the frame
// names; customer messages fan out to every live admin.
type Router struct {
	chats    store.ChatStore
	registry *Registry
	log      *zerolog.Logger
	now      func() time.Time
}

// NewRouter builds a router over the given chat store and registry.
func NewRouter(chats store.ChatStore, registry *Registry, logger *zerolog.Logger) *Router {
	return &Router{
		chats:    chats,
		registry: registry,
		log:      logger,
		now:      time.Now,
	}
}

// Handle processes one well-formed inbound frame from sender.
//
// The persisted is_from_admin flag is forced to the sender's authenticated
// role, so a customer cannot forge an admin reply into the store. The
// frame's own flag only selects the admin → customer targeting path, and
// only for senders that really are admins.
func (rt *Router) Handle(ctx context.Context, in Inbound, sender Sender) error {
	if in.IsControl() {
		rt.log.Debug().Int64("user_pk", sender.UserPK).Msg("connect handshake, not persisted")
		return nil
	}

	msg, err := rt.chats.AppendMessage(ctx, in.UserPK, in.Message, sender.IsAdmin)
	if err != nil {
		// Persistence failure aborts routing; the sender alone hears about it.
		sender.Handle.Enqueue(errorPayload("failed to save message"))
		return fmt.Errorf("append message: %w", err)
	}

	if sender.IsAdmin {
		rt.deliverToCustomer(msg, sender)
		return nil
	}
	rt.deliverToAdmins(msg, sender)
	return nil
}

// deliverToCustomer sends an admin reply to the one customer the frame
// names. If the customer is offline the admin gets a notice instead of a
// silent drop.
func (rt *Router) deliverToCustomer(msg *store.ChatMessage, sender Sender) {
	payload := marshalFrame(chatFrame(msg))

	if rt.registry.SendToCustomer(msg.UserPK, payload) {
		metrics.MessagesRelayed.WithLabelValues("admin_to_customer").Inc()
		rt.log.Debug().
			Int64("admin_pk", sender.UserPK).
			Int64("customer_pk", msg.UserPK).
			Int64("message_id", msg.ID).
			Msg("admin reply delivered")
		return
	}

	metrics.DeliveryFailures.Inc()
	rt.log.Info().
		Int64("admin_pk", sender.UserPK).
		Int64("customer_pk", msg.UserPK).
		Msg("customer offline, notifying admin")
	sender.Handle.Enqueue(offlinePayload(msg.UserPK, rt.now()))
}

// deliverToAdmins fans a customer inquiry out to every live admin, tagged
// with the originating customer id. Zero admins online is not an error:
// the message is already persisted, admins pick the thread up from history.
func (rt *Router) deliverToAdmins(msg *store.ChatMessage, sender Sender) {
	frame := chatFrame(msg)
	frame.FromCustomerPK = sender.UserPK
	payload := marshalFrame(frame)

	sent := rt.registry.BroadcastToAdmins(payload, 0)
	metrics.MessagesRelayed.WithLabelValues("customer_to_admins").Inc()
	rt.log.Debug().
		Int64("customer_pk", sender.UserPK).
		Int64("message_id", msg.ID).
		Int("admins_reached", sent).
		Msg("customer inquiry fanned out")
}
