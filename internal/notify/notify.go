// Package notify fans change sets out to registered listeners.
package notify

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/lbridge/internal/property"
)

// Listener receives the changes of one device. It cannot reject them.
type Listener interface {
	OnChanges(deviceID string, changes []property.Change)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(deviceID string, changes []property.Change)

func (f ListenerFunc) OnChanges(deviceID string, changes []property.Change) {
	f(deviceID, changes)
}

// Scope is the context a notifier runs in.
type Scope struct {
	DeviceID string
	// DSN is the cloud-side device serial number, if registered.
	DSN    string
	Logger *logrus.Logger
}

// Notifier delivers change sets synchronously, in registration order.
type Notifier struct {
	scope     Scope
	mu        sync.Mutex
	nextID    uint64
	listeners *orderedmap.OrderedMap[uint64, Listener]
}

// New creates a notifier bound to scope.
func New(scope Scope) *Notifier {
	if scope.Logger == nil {
		scope.Logger = logrus.New()
	}
	return &Notifier{
		scope:     scope,
		listeners: orderedmap.New[uint64, Listener](),
	}
}

// Scope returns the scope the notifier was built with.
func (n *Notifier) Scope() Scope {
	return n.scope
}

// Subscribe registers l and returns the function that removes it. Calling the
// returned function more than once is harmless.
func (n *Notifier) Subscribe(l Listener) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners.Set(id, l)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.listeners.Delete(id)
		})
	}
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listeners.Len()
}

// Publish delivers changes to every listener. Each listener gets its own copy of the
// slice. A panicking listener is logged and skipped. Empty change sets are dropped.
func (n *Notifier) Publish(changes []property.Change) {
	if len(changes) == 0 {
		return
	}

	n.mu.Lock()
	targets := make([]Listener, 0, n.listeners.Len())
	for pair := n.listeners.Oldest(); pair != nil; pair = pair.Next() {
		targets = append(targets, pair.Value)
	}
	n.mu.Unlock()

	for i, l := range targets {
		batch := make([]property.Change, len(changes))
		copy(batch, changes)
		n.deliver(i, l, batch)
	}
}

func (n *Notifier) deliver(idx int, l Listener, changes []property.Change) {
	defer func() {
		if r := recover(); r != nil {
			n.scope.Logger.WithFields(logrus.Fields{
				"device_id": n.scope.DeviceID,
				"dsn":       n.scope.DSN,
				"listener":  fmt.Sprintf("%d:%T", idx, l),
				"panic":     r,
			}).Error("Change listener panicked")
		}
	}()
	l.OnChanges(n.scope.DeviceID, changes)
}
