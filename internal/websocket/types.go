package websocket

import (
	"time"

	"github.com/raaihank/scrubcache/internal/audit"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeAudit carries one audit.Event
	EventTypeAudit EventType = "audit"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string  `json:"status"`
	Uptime           string  `json:"uptime"`
	CacheEntries     int     `json:"cache_entries"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	ConnectedClients int     `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type         string               `json:"type"`
	Subscription *SubscriptionRequest `json:"subscription,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows which audit events a client receives.
type EventFilter struct {
	CriticalOnly bool     `json:"critical_only,omitempty"`
	Operations   []string `json:"operations,omitempty"`
	SourceTypes  []string `json:"source_types,omitempty"`
}

func (f *EventFilter) allows(e audit.Event) bool {
	if f.CriticalOnly && !e.HasCritical {
		return false
	}
	if len(f.Operations) > 0 && !contains(f.Operations, e.Operation) {
		return false
	}
	if len(f.SourceTypes) > 0 && !contains(f.SourceTypes, e.SourceType) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Send         chan Event
	ConnectedAt  time.Time
	UserAgent    string
	subscription *SubscriptionRequest
}
