package persistence

import (
	"log"
	"sync"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/pkg/hash"
)

// Origin tags updates replayed from the log so the adapter's own
// observer does not write them back.
const Origin = "persistence"

// Namespace returns the storage namespace for a document. Keys never
// cross namespaces.
func Namespace(documentID string) string {
	return "quillmark-" + documentID
}

// Adapter binds one document's CRDT to the update log. Attach replays
// stored history into the document and closes Synced exactly once;
// afterwards every update from any other origin is written through.
type Adapter struct {
	store     *Store
	namespace string

	mu      sync.Mutex
	nextSeq uint64
	unsub   func()
	closed  bool

	synced chan struct{}
}

func NewAdapter(store *Store, documentID string) *Adapter {
	return &Adapter{
		store:     store,
		namespace: Namespace(documentID),
		synced:    make(chan struct{}),
	}
}

func (a *Adapter) Attach(doc crdt.Document) error {
	replayed, err := a.store.replayUpdates(a.namespace, func(update []byte) error {
		return doc.ApplyUpdate(update, Origin)
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.nextSeq = replayed
	a.unsub = doc.Subscribe(a.observe)
	a.mu.Unlock()

	close(a.synced)
	return nil
}

// Synced is closed once stored history has been replayed into the
// document. Reading it after the fact still returns immediately.
func (a *Adapter) Synced() <-chan struct{} {
	return a.synced
}

func (a *Adapter) observe(update []byte, origin string) {
	if origin == Origin {
		return
	}
	if err := a.AppendUpdate(update); err != nil {
		log.Printf("[persistence] failed to store update for %s: %v", a.namespace, err)
	}
}

func (a *Adapter) AppendUpdate(update []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	written, err := a.store.appendUpdate(a.namespace, a.nextSeq, hash.UpdateKey(update), update)
	if err != nil {
		return err
	}
	if written {
		a.nextSeq++
	}
	return nil
}

// Destroy detaches the adapter. Stored history is retained; eviction
// must never lose offline edits.
func (a *Adapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
	return nil
}
