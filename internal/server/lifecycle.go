package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-voicechat/internal/policy"
	"github.com/npezzotti/go-voicechat/internal/stats"
)

const eventTimeout = 10 * time.Second

// LifecycleManager connects websocket clients to the coordinator: it owns
// the connect and disconnect hooks and dispatches inbound events.
type LifecycleManager struct {
	log   *log.Logger
	hub   *Hub
	coord *Coordinator
	stats stats.StatsProvider
	wg    sync.WaitGroup
}

var _ EventHandler = (*LifecycleManager)(nil)

func NewLifecycleManager(l *log.Logger, hub *Hub, coord *Coordinator, st stats.StatsProvider) *LifecycleManager {
	for _, name := range []string{
		stats.NumActiveSessions,
		stats.NumEvents,
		stats.NumEventErrors,
		stats.NumPolicyDenials,
	} {
		st.RegisterMetric(name)
	}

	return &LifecycleManager{
		log:   l,
		hub:   hub,
		coord: coord,
		stats: st,
	}
}

// Serve starts the client's pumps. Shutdown waits for the read pump, and
// with it the disconnect cleanup, of every served client.
func (m *LifecycleManager) Serve(c *Client) {
	m.wg.Add(1)
	go c.Write()
	go func() {
		defer m.wg.Done()
		c.Read()
	}()
}

func (m *LifecycleManager) HandleConnect(c *Client) error {
	m.hub.AddClient(c)
	m.stats.Incr(stats.NumActiveSessions)
	m.log.Printf("user %q connected on %q", c.userId, c.id)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := m.coord.ConnectUser(ctx, c.userId, c.id); err != nil {
		c.queueMessage(NewError(0, toClientError("CONNECT", err)))
		return err
	}

	return nil
}

func (m *LifecycleManager) HandleDisconnect(c *Client) {
	if err := m.coord.DisconnectUser(context.Background(), c.userId, c.id); err != nil {
		m.log.Printf("disconnect %q on %q: %v", c.userId, c.id, err)
	}

	m.hub.RemoveClient(c.id)
	m.stats.Decr(stats.NumActiveSessions)
	m.log.Printf("user %q disconnected from %q", c.userId, c.id)
}

func (m *LifecycleManager) HandleEvent(c *Client, msg *ClientMessage) {
	m.stats.Incr(stats.NumEvents)

	if msg.Event == EventPing {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
			Event:       EventPong,
		})
		return
	}

	ctx, cancel := context.WithTimeout(WithIssuer(context.Background(), c.id), eventTimeout)
	defer cancel()

	part := strings.ToUpper(msg.Event)

	d, err := m.dispatch(ctx, c, msg)
	if errors.Is(err, ErrStaleConnection) {
		m.log.Printf("dropping %q from evicted connection %q", msg.Event, c.id)
		return
	}
	if err != nil {
		m.stats.Incr(stats.NumEventErrors)
		m.log.Printf("%s from %q: %v", msg.Event, c.userId, err)
		c.queueMessage(NewError(msg.Id, toClientError(part, err)))
		return
	}

	if !d.Allowed() {
		m.stats.Incr(stats.NumPolicyDenials)
	}

	c.queueMessage(NewAck(msg.Id, msg.Event, d.Outcome.String(), d.Reason))
}

func (m *LifecycleManager) dispatch(ctx context.Context, c *Client, msg *ClientMessage) (policy.Decision, error) {
	switch msg.Event {
	case EventConnectServer:
		var p ConnectServerPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.ConnectServer(ctx, c.userId, p.UserId, p.ServerId)
	case EventDisconnectServer:
		var p DisconnectServerPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.DisconnectServer(ctx, c.userId, p.UserId, p.ServerId)
	case EventConnectChannel:
		var p ConnectChannelPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.ConnectChannel(ctx, c.userId, p.UserId, p.ChannelId, p.ServerId, p.Password)
	case EventDisconnectChannel:
		var p DisconnectChannelPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.DisconnectChannel(ctx, c.userId, p.UserId, p.ChannelId, p.ServerId)
	case EventUpdateMember:
		var p UpdateMemberPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.UpdateMember(ctx, c.userId, p.UserId, p.ServerId, p.Member)
	case EventUpdateServer:
		var p UpdateServerPayload
		if err := validatePayload(msg.Event, msg.Payload, &p); err != nil {
			return policy.Decision{}, err
		}
		return m.coord.UpdateServer(ctx, c.userId, p.ServerId, p.Server)
	default:
		return policy.Decision{}, &ValidationError{
			Part:       "EVENT",
			Tag:        TagUnknownEvent,
			Message:    "unknown event " + msg.Event,
			StatusCode: http.StatusBadRequest,
		}
	}
}

// Shutdown stops every client and waits until their disconnect cleanup has
// run or ctx is done.
func (m *LifecycleManager) Shutdown(ctx context.Context) error {
	m.log.Println("stopping clients")
	for _, c := range m.hub.Clients() {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
