package server

import (
	"log"
	"sync"
)

// Broadcaster is the multicast surface the coordinator talks to. Connection
// and group ids are opaque strings; emits never block the caller.
type Broadcaster interface {
	JoinGroup(connId, group string)
	LeaveGroup(connId, group string)
	LeaveAllGroups(connId string)
	EmitTo(group, event string, data any)
	EmitToConnection(connId, event string, data any)
	DisconnectConnection(connId string)
}

func ServerGroup(serverId string) string {
	return "server_" + serverId
}

func ChannelGroup(channelId string) string {
	return "channel_" + channelId
}

func ServerManagerGroup(serverId string) string {
	return "serverManager_" + serverId
}

// Hub keeps the live clients and the group membership of each of them.
type Hub struct {
	log      *log.Logger
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(l *log.Logger) *Hub {
	return &Hub{
		log:      l,
		clients:  make(map[string]*Client),
		groups:   make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
}

// RemoveClient drops the client and any group membership it still holds.
func (h *Hub) RemoveClient(connId string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(connId)
	delete(h.clients, connId)
}

func (h *Hub) JoinGroup(connId, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[connId]; !ok {
		h.log.Printf("join %q: connection %q is not registered", group, connId)
		return
	}

	conns, ok := h.groups[group]
	if !ok {
		conns = make(map[string]struct{})
		h.groups[group] = conns
	}
	conns[connId] = struct{}{}

	joined, ok := h.memberOf[connId]
	if !ok {
		joined = make(map[string]struct{})
		h.memberOf[connId] = joined
	}
	joined[group] = struct{}{}
}

func (h *Hub) LeaveGroup(connId, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(connId, group)
}

func (h *Hub) LeaveAllGroups(connId string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveAllLocked(connId)
}

func (h *Hub) leaveLocked(connId, group string) {
	if conns, ok := h.groups[group]; ok {
		delete(conns, connId)
		if len(conns) == 0 {
			delete(h.groups, group)
		}
	}

	if joined, ok := h.memberOf[connId]; ok {
		delete(joined, group)
		if len(joined) == 0 {
			delete(h.memberOf, connId)
		}
	}
}

func (h *Hub) leaveAllLocked(connId string) {
	for group := range h.memberOf[connId] {
		h.leaveLocked(connId, group)
	}
}

func (h *Hub) EmitTo(group, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := NewEvent(event, data)
	for connId := range h.groups[group] {
		if c, ok := h.clients[connId]; ok {
			c.queueMessage(msg)
		}
	}
}

func (h *Hub) EmitToConnection(connId, event string, data any) {
	h.mu.RLock()
	c, ok := h.clients[connId]
	h.mu.RUnlock()

	if !ok {
		return
	}

	c.queueMessage(NewEvent(event, data))
}

// DisconnectConnection stops the client's pumps. Messages already queued are
// flushed before the socket closes.
func (h *Hub) DisconnectConnection(connId string) {
	h.mu.RLock()
	c, ok := h.clients[connId]
	h.mu.RUnlock()

	if !ok {
		return
	}

	c.stopClient()
}

// Members returns the connections currently in group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0, len(h.groups[group]))
	for connId := range h.groups[group] {
		members = append(members, connId)
	}
	return members
}

// Groups returns the groups connId belongs to.
func (h *Hub) Groups(connId string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groups := make([]string, 0, len(h.memberOf[connId]))
	for group := range h.memberOf[connId] {
		groups = append(groups, group)
	}
	return groups
}

func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}
