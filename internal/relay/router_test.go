package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestRouter() (*Router, *fakeChatStore, *Registry) {
	chats := &fakeChatStore{}
	registry := NewRegistry()
	return NewRouter(chats, registry, nopLogger()), chats, registry
}

func TestRouterConnectFrameIsNeverPersistedOrRouted(t *testing.T) {
	router, chats, registry := newTestRouter()
	admin := &fakeHandle{}
	registry.Register(1, admin, true)
	sender := &fakeHandle{}

	in := Inbound{UserPK: 5, Message: ControlConnect}
	if err := router.Handle(context.Background(), in, Sender{UserPK: 5, Handle: sender}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chats.count() != 0 {
		t.Fatalf("control frame was persisted")
	}
	if len(admin.received()) != 0 || len(sender.received()) != 0 {
		t.Fatalf("control frame was delivered")
	}
}

func TestRouterCustomerInquiryFansOutToAllAdmins(t *testing.T) {
	router, chats, registry := newTestRouter()
	adminA := &fakeHandle{}
	adminB := &fakeHandle{}
	customer := &fakeHandle{}
	registry.Register(10, adminA, true)
	registry.Register(11, adminB, true)
	registry.Register(5, customer, false)

	in := Inbound{UserPK: 5, Message: "hello"}
	err := router.Handle(context.Background(), in, Sender{UserPK: 5, IsAdmin: false, Handle: customer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chats.count() != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", chats.count())
	}
	msg := chats.last(t)
	if msg.UserPK != 5 || msg.IsFromAdmin {
		t.Fatalf("unexpected persisted message: %+v", msg)
	}

	for _, admin := range []*fakeHandle{adminA, adminB} {
		frame := admin.lastFrame(t)
		if frame["from_customer_pk"] != float64(5) {
			t.Fatalf("fan-out frame lacks attribution: %v", frame)
		}
		if frame["message"] != "hello" {
			t.Fatalf("unexpected fan-out payload: %v", frame)
		}
	}

	// The customer hears nothing back on the happy path.
	if len(customer.received()) != 0 {
		t.Fatalf("customer received unexpected frames")
	}
}

func TestRouterCustomerInquiryWithNoAdminsIsPersistedSilently(t *testing.T) {
	router, chats, _ := newTestRouter()
	customer := &fakeHandle{}

	in := Inbound{UserPK: 5, Message: "anyone there?"}
	err := router.Handle(context.Background(), in, Sender{UserPK: 5, Handle: customer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chats.count() != 1 {
		t.Fatalf("message must be persisted even with zero admins online")
	}
	if len(customer.received()) != 0 {
		t.Fatalf("customer must not be notified about missing admins")
	}
}

func TestRouterAdminReplyReachesOnlyTheNamedCustomer(t *testing.T) {
	router, chats, registry := newTestRouter()
	admin := &fakeHandle{}
	target := &fakeHandle{}
	bystander := &fakeHandle{}
	registry.Register(1, admin, true)
	registry.Register(5, target, false)
	registry.Register(6, bystander, false)

	in := Inbound{UserPK: 5, Message: "hi", IsFromAdmin: true}
	err := router.Handle(context.Background(), in, Sender{UserPK: 1, IsAdmin: true, Handle: admin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if chats.count() != 1 {
		t.Fatalf("expected one persisted message")
	}
	msg := chats.last(t)
	if msg.UserPK != 5 || !msg.IsFromAdmin {
		t.Fatalf("unexpected persisted message: %+v", msg)
	}

	frame := target.lastFrame(t)
	if frame["message"] != "hi" || frame["is_from_admin"] != true {
		t.Fatalf("unexpected frame at customer: %v", frame)
	}
	if _, tagged := frame["from_customer_pk"]; tagged {
		t.Fatalf("one-to-one reply must not carry fan-out attribution")
	}
	if len(bystander.received()) != 0 || len(admin.received()) != 0 {
		t.Fatalf("reply leaked beyond the named customer")
	}
}

func TestRouterAdminReplyToOfflineCustomerNotifiesSenderOnly(t *testing.T) {
	router, chats, registry := newTestRouter()
	admin := &fakeHandle{}
	otherAdmin := &fakeHandle{}
	registry.Register(1, admin, true)
	registry.Register(2, otherAdmin, true)

	in := Inbound{UserPK: 5, Message: "hi", IsFromAdmin: true}
	err := router.Handle(context.Background(), in, Sender{UserPK: 1, IsAdmin: true, Handle: admin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Persisted regardless of delivery.
	if chats.count() != 1 {
		t.Fatalf("expected message persisted despite offline target")
	}

	notice := admin.lastFrame(t)
	if notice["type"] != "error" {
		t.Fatalf("expected offline notice, got %v", notice)
	}
	if !strings.Contains(notice["message"].(string), "5") {
		t.Fatalf("notice does not name the customer: %v", notice)
	}
	if notice["timestamp"] == "" {
		t.Fatalf("notice lacks timestamp")
	}
	if len(otherAdmin.received()) != 0 {
		t.Fatalf("offline notice leaked to another admin")
	}
}

func TestRouterPersistenceFailureAbortsDelivery(t *testing.T) {
	router, chats, registry := newTestRouter()
	chats.failWith = errors.New("disk full")
	admin := &fakeHandle{}
	sender := &fakeHandle{}
	registry.Register(1, admin, true)

	in := Inbound{UserPK: 5, Message: "hello"}
	err := router.Handle(context.Background(), in, Sender{UserPK: 5, Handle: sender})
	if err == nil {
		t.Fatalf("expected persistence error to surface")
	}

	if len(admin.received()) != 0 {
		t.Fatalf("no delivery may happen when persistence fails")
	}
	frame := sender.lastFrame(t)
	if frame["error"] == nil {
		t.Fatalf("sender did not receive an error frame: %v", frame)
	}
}

func TestRouterPersistedRoleFollowsSenderNotFlag(t *testing.T) {
	router, chats, registry := newTestRouter()
	admin := &fakeHandle{}
	customer := &fakeHandle{}
	registry.Register(1, admin, true)
	registry.Register(5, customer, false)

	// A customer claiming to be an admin is still persisted as a customer
	// and still fans out to admins.
	in := Inbound{UserPK: 5, Message: "forged", IsFromAdmin: true}
	err := router.Handle(context.Background(), in, Sender{UserPK: 5, IsAdmin: false, Handle: customer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := chats.last(t)
	if msg.IsFromAdmin {
		t.Fatalf("forged admin flag reached the store")
	}
	if len(admin.received()) != 1 {
		t.Fatalf("expected fan-out to admins")
	}
	if len(customer.received()) != 0 {
		t.Fatalf("forged frame must not be routed back to the customer")
	}
}
