package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/example/ride-relay/internal/models"
	"github.com/example/ride-relay/internal/observability"
)

// Registry is the subset of the driver registry the hub writes to.
type Registry interface {
	Upsert(driverID string, lat, lon float64, ts time.Time) models.DriverPosition
	RemoveIf(driverID string, p models.DriverPosition) bool
	Len() int
}

// Matcher ranks drivers around a point.
type Matcher interface {
	Nearby(ctx context.Context, lat, lon float64) ([]models.NearbyDriver, error)
}

// LocationSink receives every accepted location update. Publish must not block.
type LocationSink interface {
	Publish(p models.DriverPosition)
}

type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	// EvictOnDisconnect removes a driver's entry when the connection that
	// bound it closes. Off by default: entries otherwise outlive connections.
	EvictOnDisconnect bool
}

const closeGrace = time.Second

// Hub accepts relay connections and dispatches their messages.
type Hub struct {
	registry Registry
	matcher  Matcher
	sink     LocationSink
	opts     Options
	log      zerolog.Logger

	upgrader websocket.Upgrader
	sessions cmap.ConcurrentMap[string, *Session]
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewHub(reg Registry, m Matcher, sink LocationSink, opts Options, log zerolog.Logger) *Hub {
	if sink == nil {
		sink = nopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: reg,
		matcher:  m,
		sink:     sink,
		opts:     opts,
		log:      log.With().Str("component", "relay").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// mobile clients do not send a browser Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: cmap.New[*Session](),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ActiveConnections reports the number of open relay connections.
func (h *Hub) ActiveConnections() int { return h.sessions.Count() }

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	if h.opts.ReadLimit > 0 {
		conn.SetReadLimit(h.opts.ReadLimit)
	}

	s := newSession(uuid.NewString(), r.RemoteAddr, conn, h.opts.WriteTimeout, h.log)
	s.closer = conn
	h.sessions.Set(s.ID, s)
	observability.ActiveConnections.Inc()
	defer h.release(s)

	// Close may have swept the sessions before this one was added
	if h.ctx.Err() != nil {
		return
	}
	s.log.Info().Msg("connection established")
	h.serve(s, conn)
}

func (h *Hub) serve(s *Session, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Info().Msg("connection closed by peer")
			} else {
				s.log.Warn().Err(err).Msg("connection read failed")
			}
			return
		}
		if err := h.HandleMessage(h.ctx, s, raw); err != nil {
			s.log.Warn().Err(err).Msg("closing connection after write failure")
			return
		}
	}
}

// HandleMessage decodes and applies one inbound frame. Bad input is logged
// and dropped; the returned error is always a transport failure that
// should end the connection.
func (h *Hub) HandleMessage(ctx context.Context, s *Session, raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		observability.MessagesDropped.WithLabelValues("malformed").Inc()
		s.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed message")
		return nil
	}

	switch m := msg.(type) {
	case LocationUpdate:
		observability.MessagesTotal.WithLabelValues(string(MsgLocationUpdate)).Inc()
		h.handleLocationUpdate(s, m)
		return nil
	case RideRequest:
		observability.MessagesTotal.WithLabelValues(string(MsgRequestRide)).Inc()
		return h.handleRideRequest(ctx, s, m)
	case Ping:
		observability.MessagesTotal.WithLabelValues(string(MsgPing)).Inc()
		return s.Send(PongMessage{Type: MsgPong, Timestamp: h.now().UnixMilli()})
	case Unknown:
		observability.MessagesTotal.WithLabelValues("unknown").Inc()
		s.log.Info().Str("type", m.Name).Msg("ignoring unknown message type")
		return nil
	default:
		s.log.Error().Str("type", string(msg.Type())).Msg("decoded message has no handler")
		return nil
	}
}

func (h *Hub) handleLocationUpdate(s *Session, m LocationUpdate) {
	s.declare(m.Role)
	if m.Role != RoleDriver {
		observability.MessagesDropped.WithLabelValues("role_mismatch").Inc()
		s.log.Warn().Str("type", string(MsgLocationUpdate)).Str("declared_role", m.Role).Msg("ignoring message for wrong role")
		return
	}
	p := h.registry.Upsert(m.DriverID, m.Latitude, m.Longitude, h.now())
	s.recordPosition(p)
	h.sink.Publish(p)
	observability.DriversTracked.Set(float64(h.registry.Len()))
	s.log.Debug().Str("driver", m.DriverID).Float64("latitude", m.Latitude).Float64("longitude", m.Longitude).Msg("driver location updated")
}

func (h *Hub) handleRideRequest(ctx context.Context, s *Session, m RideRequest) error {
	s.declare(m.Role)
	if m.Role != RoleUser {
		observability.MessagesDropped.WithLabelValues("role_mismatch").Inc()
		s.log.Warn().Str("type", string(MsgRequestRide)).Str("declared_role", m.Role).Msg("ignoring message for wrong role")
		return nil
	}
	res, err := h.matcher.Nearby(ctx, m.Latitude, m.Longitude)
	if err != nil {
		return err
	}
	s.log.Debug().Float64("latitude", m.Latitude).Float64("longitude", m.Longitude).Int("count", len(res)).Msg("nearby drivers requested")
	return s.Send(NewNearbyDrivers(res))
}

func (h *Hub) release(s *Session) {
	h.sessions.Remove(s.ID)
	observability.ActiveConnections.Dec()
	if s.closer != nil {
		_ = s.closer.Close()
	}
	if h.opts.EvictOnDisconnect && s.driverID != "" {
		if h.registry.RemoveIf(s.driverID, s.lastPos) {
			observability.DriversTracked.Set(float64(h.registry.Len()))
			s.log.Info().Msg("evicted driver on disconnect")
		}
	}
	s.log.Info().Msg("connection released")
}

// Close stops accepting connections, closes the open ones and waits for
// their loops to finish or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	deadline := time.Now().Add(closeGrace)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	for _, s := range h.sessions.Items() {
		if c, ok := s.closer.(*websocket.Conn); ok {
			_ = c.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		if s.closer != nil {
			_ = s.closer.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("relay connections still draining"), ctx.Err())
	}
}

type nopSink struct{}

func (nopSink) Publish(models.DriverPosition) {}
