// Package notify fans out record-change notifications to in-process
// subscribers. Writers publish a Change after each successful mutation;
// live views subscribe to the topics they project from and recompute
// when a ping arrives.
package notify

import (
	"strings"
	"sync"
)

// Op identifies the kind of mutation behind a change.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Table names used in change topics.
const (
	TablePolicies      = "policies"
	TableMemberships   = "memberships"
	TableSessionGrants = "session_grants"
	TableSessionInfos  = "session_infos"
	TablePresence      = "presence"
)

// Change describes a single record mutation.
type Change struct {
	Table        string
	Key          string
	ResourceType string
	ResourceID   string
	Op           Op
}

// Composite record keys, shared by publishers and subscribers.
func KeyPolicy(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

func KeyMembership(accountID, resourceType, resourceID string) string {
	return accountID + "/" + resourceType + "/" + resourceID
}

func KeySessionGrant(resourceType, resourceID, sessionID string) string {
	return resourceType + "/" + resourceID + "/" + sessionID
}

func KeySessionInfo(sessionID string) string {
	return sessionID
}

// TopicKey addresses one record by table and composite key.
func TopicKey(table, key string) string {
	return "key/" + table + "/" + key
}

// TopicResource addresses every record of a resource, across tables.
func TopicResource(resourceType, resourceID string) string {
	return "resource/" + resourceType + "/" + resourceID
}

func (c Change) topics() []string {
	topics := make([]string, 0, 2)
	if c.Table != "" && c.Key != "" {
		topics = append(topics, TopicKey(c.Table, c.Key))
	}
	if strings.TrimSpace(c.ResourceType) != "" && strings.TrimSpace(c.ResourceID) != "" {
		topics = append(topics, TopicResource(c.ResourceType, c.ResourceID))
	}
	return topics
}

// Hub routes changes to subscriptions by topic.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers interest in the given topics. The returned
// subscription coalesces pings: a slow reader sees at most one pending
// ping and re-reads current state when it drains it.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub:    h,
		topics: topics,
		ch:     make(chan struct{}, 1),
	}

	h.mu.Lock()
	for _, topic := range topics {
		set, ok := h.topics[topic]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.topics[topic] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()
	return sub
}

// Publish pings every subscription matching the change. Delivery never
// blocks the writer.
func (h *Hub) Publish(change Change) {
	notified := make(map[*Subscription]struct{})

	h.mu.Lock()
	for _, topic := range change.topics() {
		for sub := range h.topics[topic] {
			notified[sub] = struct{}{}
		}
	}
	h.mu.Unlock()

	for sub := range notified {
		sub.ping()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	for _, topic := range sub.topics {
		set, ok := h.topics[topic]
		if !ok {
			continue
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

// Subscription receives coalesced change pings for a set of topics.
type Subscription struct {
	hub    *Hub
	topics []string

	mu     sync.Mutex
	closed bool
	ch     chan struct{}
}

// C returns the ping channel. It is closed when the subscription closes.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

func (s *Subscription) ping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Close detaches the subscription from the hub and closes its channel.
// Close is idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.hub.remove(s)
}
