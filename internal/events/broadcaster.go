// Package events publishes explorer state transitions to subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/explorer/internal/metrics"
	"github.com/fruitsalade/explorer/internal/models"
)

const (
	EventInit            = "init"
	EventCreateItem      = "create_item"
	EventRenameItem      = "rename_item"
	EventDeleteItem      = "delete_item"
	EventOpenFile        = "open_file"
	EventCloseFile       = "close_file"
	EventSetTabs         = "set_tabs"
	EventCreateWorkspace = "create_workspace"
	EventRenameWorkspace = "rename_workspace"
	EventDeleteWorkspace = "delete_workspace"
	EventSwitchWorkspace = "switch_workspace"
)

const subscriberBuffer = 64

// Event is a plain-data notification about an explorer state change.
// File is set only for open_file and is nil when no file is open.
type Event struct {
	Type      string           `json:"type"`
	Path      string           `json:"path,omitempty"`
	OldPath   string           `json:"oldPath,omitempty"`
	Workspace string           `json:"workspace,omitempty"`
	File      *models.FileView `json:"file,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Broadcaster fans events out to subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a subscriber. The returned func unsubscribes and closes the
// channel; calling it more than once is safe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(ch) })
	}
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetEventSubscribers(n)
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
