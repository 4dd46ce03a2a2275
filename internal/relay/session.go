package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/metrics"
)

// Wire is one duplex frame stream, exclusively owned by its Session. The
// transport layer adapts the actual websocket connection to this interface.
type Wire interface {
	// ReadFrame blocks until the next inbound frame or transport failure.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame sends one frame to the peer.
	WriteFrame(ctx context.Context, payload []byte) error

	// Close terminates the stream. Safe to call more than once.
	Close(reason string)
}

// outboundQueueSize bounds the per-session write backlog. A participant
// that stops draining loses frames rather than blocking senders.
const outboundQueueSize = 32

// Session owns one participant's connection end-to-end: it identifies the
// participant on the first frame, registers with the registry, pumps
// inbound frames into the router, and drains the outbound queue onto the
// wire. It unregisters exactly once when the transport goes away.
type Session struct {
	wire     Wire
	registry *Registry
	router   *Router
	resolver IdentityResolver
	log      *zerolog.Logger

	userPK     int64
	isAdmin    bool
	registered bool

	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session over an accepted wire. The session is
// not registered until the first frame reveals who is on the other end.
func NewSession(wire Wire, registry *Registry, router *Router, resolver IdentityResolver, logger *zerolog.Logger) *Session {
	return &Session{
		wire:     wire,
		registry: registry,
		router:   router,
		resolver: resolver,
		log:      logger,
		outbound: make(chan []byte, outboundQueueSize),
		closed:   make(chan struct{}),
	}
}

// Enqueue implements Handle. It never blocks; a full queue counts as a
// failed delivery.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.outbound <- payload:
		return true
	default:
		return false
	}
}

// Close implements Handle. The first call tears the wire down and stops
// the write loop; later calls are no-ops.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wire.Close(reason)
	})
}

// Run drives the session until the transport disconnects or ctx is
// cancelled. It returns the transport error that ended the read loop.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(ctx)
	}()

	err := s.readLoop(ctx)

	if s.registered {
		s.registry.Release(s.userPK, s)
		metrics.ConnectionsActive.WithLabelValues(roleLabel(s.isAdmin)).Dec()
		s.log.Info().Int64("user_pk", s.userPK).Bool("is_admin", s.isAdmin).Msg("participant disconnected")
	}

	s.Close("session ended")
	cancel()
	<-writeDone

	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	// The first frame carries the participant's identity. A malformed or
	// anonymous first frame consumes the identity chance: the session stays
	// active but unregistered and is treated as a customer.
	raw, err := s.wire.ReadFrame(ctx)
	if err != nil {
		return err
	}

	var first Inbound
	if err := json.Unmarshal(raw, &first); err != nil {
		metrics.DecodeErrors.Inc()
		s.Enqueue(errorPayload("Invalid JSON format"))
		s.log.Warn().Err(err).Msg("malformed first frame, session stays unregistered")
	} else {
		s.identify(ctx, first)
		s.dispatch(ctx, first)
	}

	for {
		raw, err := s.wire.ReadFrame(ctx)
		if err != nil {
			return err
		}

		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			metrics.DecodeErrors.Inc()
			s.Enqueue(errorPayload("Invalid JSON format"))
			continue
		}
		s.dispatch(ctx, in)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case payload := <-s.outbound:
			if err := s.wire.WriteFrame(ctx, payload); err != nil {
				s.log.Warn().Err(err).Int64("user_pk", s.userPK).Msg("write frame")
				s.Close("write failed")
				return
			}
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// identify fixes the session's role from its first frame. Resolver failure
// and unknown participants fall back to the least-privileged role; the
// connection itself is never aborted over identity.
func (s *Session) identify(ctx context.Context, first Inbound) {
	if first.UserPK == 0 {
		s.log.Info().Msg("first frame carries no user_pk, session stays unregistered")
		return
	}

	identity, err := s.resolver.ResolveRole(ctx, first.UserPK)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_pk", first.UserPK).Msg("identity resolution failed, treating as customer")
		identity = Identity{}
	}

	s.userPK = first.UserPK
	s.isAdmin = identity.Exists && identity.IsAdmin
	s.registered = true
	s.registry.Register(s.userPK, s, s.isAdmin)
	metrics.ConnectionsActive.WithLabelValues(roleLabel(s.isAdmin)).Inc()

	s.log.Info().Int64("user_pk", s.userPK).Bool("is_admin", s.isAdmin).Msg("participant connected")
}

func (s *Session) dispatch(ctx context.Context, in Inbound) {
	sender := Sender{UserPK: s.userPK, IsAdmin: s.isAdmin, Handle: s}
	if err := s.router.Handle(ctx, in, sender); err != nil {
		s.log.Warn().Err(err).Int64("user_pk", s.userPK).Msg("route frame")
	}
}

func roleLabel(isAdmin bool) string {
	if isAdmin {
		return "admin"
	}
	return "customer"
}
