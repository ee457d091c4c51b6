package replica

import (
	"log"
	"sync"
	"time"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/snapshot"
)

// Capability interfaces are kept small so the registry can be
// exercised with fakes; production wiring binds them in cmd/engine.

type Persistence interface {
	Attach(doc crdt.Document) error
	// Synced is closed once the stored update log has been replayed.
	Synced() <-chan struct{}
	Destroy() error
}

type Transport interface {
	Status() string
	SetAwareness(payload []byte)
	Destroy()
}

type Scheduler interface {
	Status() snapshot.Status
	Destroy()
}

// Instance is one live replica: the CRDT plus whatever adapters are
// currently attached to it.
type Instance struct {
	DocumentID string

	doc         crdt.Document
	persistence Persistence

	// ready is closed when construction finished; initErr carries the
	// failure for callers that were waiting on it.
	ready   chan struct{}
	initErr error

	mu           sync.Mutex
	transport    Transport
	scheduler    Scheduler
	dialing      bool
	refreshTried bool
	destroyed    bool

	// Guarded by the registry lock, not mu.
	refCount   int
	lastAccess time.Time
}

func newInstance(documentID string, doc crdt.Document) *Instance {
	return &Instance{
		DocumentID: documentID,
		doc:        doc,
		ready:      make(chan struct{}),
	}
}

func (i *Instance) Doc() crdt.Document { return i.doc }

// Synced exposes the persistence replay signal for hydration.
func (i *Instance) Synced() <-chan struct{} { return i.persistence.Synced() }

func (i *Instance) HasTransport() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transport != nil
}

// TransportStatus reports the live link state; attached is false when
// the replica runs offline.
func (i *Instance) TransportStatus() (status string, attached bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.transport == nil {
		return "", false
	}
	return i.transport.Status(), true
}

func (i *Instance) SchedulerStatus() (snapshot.Status, bool) {
	i.mu.Lock()
	s := i.scheduler
	i.mu.Unlock()
	if s == nil {
		return snapshot.Status{}, false
	}
	return s.Status(), true
}

// SetAwareness forwards presence state to the live link, if any.
func (i *Instance) SetAwareness(payload []byte) {
	i.mu.Lock()
	t := i.transport
	i.mu.Unlock()
	if t != nil {
		t.SetAwareness(payload)
	}
}

// teardown detaches everything, adapters before the CRDT: scheduler
// first so its final flush still sees the full document, then the live
// link, then persistence. Partial failures are logged and teardown
// keeps going.
func (i *Instance) teardown() error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil
	}
	i.destroyed = true
	scheduler, transport, persistence := i.scheduler, i.transport, i.persistence
	i.scheduler, i.transport = nil, nil
	i.mu.Unlock()

	var firstErr error
	if scheduler != nil {
		scheduler.Destroy()
	}
	if transport != nil {
		transport.Destroy()
	}
	if persistence != nil {
		if err := persistence.Destroy(); err != nil {
			log.Printf("replica %s: persistence teardown: %v", i.DocumentID, err)
			firstErr = err
		}
	}
	i.doc.Close()
	return firstErr
}
