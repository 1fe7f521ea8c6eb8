package document

import "sync"

// Callback is invoked synchronously for every Event an Engine emits.
type Callback func(event Event)

// HookManager dispatches Engine events to registered callbacks, adapted
// from the teacher's internal/hooks/manager.go (webhooks dropped: this
// engine has no outbound HTTP surface of its own, that belongs to
// internal/sync).
type HookManager struct {
	mu        sync.RWMutex
	callbacks map[EventType][]Callback
}

// NewHookManager returns an empty HookManager.
func NewHookManager() *HookManager {
	return &HookManager{callbacks: make(map[EventType][]Callback)}
}

// On registers cb for eventType.
func (m *HookManager) On(eventType EventType, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[eventType] = append(m.callbacks[eventType], cb)
}

// OnCreate registers cb for EventCreate.
func (m *HookManager) OnCreate(cb Callback) { m.On(EventCreate, cb) }

// OnChange registers cb for EventChange.
func (m *HookManager) OnChange(cb Callback) { m.On(EventChange, cb) }

// OnDelete registers cb for EventDelete.
func (m *HookManager) OnDelete(cb Callback) { m.On(EventDelete, cb) }

// Trigger runs every callback registered for event.Type.
func (m *HookManager) Trigger(event Event) {
	m.mu.RLock()
	cbs := append([]Callback(nil), m.callbacks[event.Type]...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(event)
	}
}
