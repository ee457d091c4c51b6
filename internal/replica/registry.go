package replica

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/snapshot"
)

type AcquireOptions struct {
	// EnableCollaboration asks for a live link. It only takes effect
	// when the caller is authenticated.
	EnableCollaboration bool
	Authenticated       bool
}

// Factories bind the registry to concrete adapters. NewDocument and
// NewPersistence are required; the other two may be nil when the
// engine runs without a collab server or cloud backups.
type Factories struct {
	NewDocument    func(documentID string) crdt.Document
	NewPersistence func(documentID string) Persistence
	NewTransport   func(ctx context.Context, documentID string, doc crdt.Document, onAuthFailed func()) (Transport, error)
	NewScheduler   func(documentID string, doc crdt.Document) Scheduler
}

// Notifier receives per-document lifecycle events for the UI feed.
type Notifier interface {
	PublishDocumentEvent(documentID, event string, payload any)
}

type Config struct {
	SweepInterval time.Duration
	EvictAfter    time.Duration
}

// Registry is the process-wide map from document id to live replica.
// One document has at most one replica; every open editor shares it
// through reference counting, and a background sweep evicts replicas
// nobody has touched for a while.
type Registry struct {
	cfg       Config
	factories Factories
	refresh   func(ctx context.Context) error
	notifier  Notifier

	mu        sync.Mutex
	entries   map[string]*Instance
	sweepStop chan struct{}
}

func NewRegistry(cfg Config, factories Factories, refresh func(ctx context.Context) error, notifier Notifier) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 5 * time.Minute
	}
	return &Registry{
		cfg:       cfg,
		factories: factories,
		refresh:   refresh,
		notifier:  notifier,
		entries:   make(map[string]*Instance),
	}
}

// Start arms the background sweep. Called on boot and again after a
// logout tore it down.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	r.sweepStop = stop
	go r.sweepLoop(stop)
}

func (r *Registry) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Acquire returns the replica for documentID, constructing it on first
// use. The entry is registered before any adapter attaches, so
// concurrent callers converge on the same instance; only persistence
// failures are fatal, and they leave nothing registered.
func (r *Registry) Acquire(ctx context.Context, documentID string, opts AcquireOptions) (*Instance, error) {
	for {
		r.mu.Lock()
		inst, ok := r.entries[documentID]
		if !ok {
			inst = newInstance(documentID, r.factories.NewDocument(documentID))
			inst.refCount = 1
			inst.lastAccess = time.Now()
			r.entries[documentID] = inst
			r.mu.Unlock()
			return r.construct(ctx, inst, opts)
		}
		r.mu.Unlock()

		select {
		case <-inst.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if inst.initErr != nil {
			return nil, inst.initErr
		}

		r.mu.Lock()
		current, ok := r.entries[documentID]
		if !ok || current != inst {
			// Destroyed between lookup and readiness; go around and
			// construct a fresh one.
			r.mu.Unlock()
			continue
		}
		inst.refCount++
		inst.lastAccess = time.Now()
		r.mu.Unlock()

		r.upgrade(ctx, inst, opts)
		return inst, nil
	}
}

func (r *Registry) construct(ctx context.Context, inst *Instance, opts AcquireOptions) (*Instance, error) {
	pers := r.factories.NewPersistence(inst.DocumentID)
	if err := pers.Attach(inst.doc); err != nil {
		err = fmt.Errorf("attaching persistence for %s: %w", inst.DocumentID, err)
		inst.initErr = err
		r.mu.Lock()
		delete(r.entries, inst.DocumentID)
		r.mu.Unlock()
		close(inst.ready)
		inst.doc.Close()
		return nil, err
	}
	inst.persistence = pers
	close(inst.ready)

	// A logout can wipe the map while we were attaching; hand back
	// nothing rather than a replica the registry no longer owns.
	r.mu.Lock()
	_, registered := r.entries[inst.DocumentID]
	r.mu.Unlock()
	if !registered {
		inst.teardown()
		return nil, fmt.Errorf("replica %s destroyed during construction", inst.DocumentID)
	}

	r.publish(inst.DocumentID, "replica_opened", nil)
	r.upgrade(ctx, inst, opts)
	return inst, nil
}

// upgrade attaches whatever the options now ask for that the instance
// does not have yet. Persistence never changes here; the CRDT with all
// its in-memory edits is reused as-is.
func (r *Registry) upgrade(ctx context.Context, inst *Instance, opts AcquireOptions) {
	if !opts.Authenticated {
		return
	}

	inst.mu.Lock()
	inst.refreshTried = false
	attachScheduler := inst.scheduler == nil && !inst.destroyed && r.factories.NewScheduler != nil
	if attachScheduler {
		inst.scheduler = r.factories.NewScheduler(inst.DocumentID, inst.doc)
	}
	needTransport := opts.EnableCollaboration && r.factories.NewTransport != nil &&
		inst.transport == nil && !inst.dialing && !inst.destroyed
	if needTransport {
		inst.dialing = true
	}
	inst.mu.Unlock()

	if needTransport {
		r.attachTransport(ctx, inst)
	}
}

// attachTransport dials and installs the live link. Failures are
// logged only; an open replica keeps working offline.
func (r *Registry) attachTransport(ctx context.Context, inst *Instance) {
	t, err := r.factories.NewTransport(ctx, inst.DocumentID, inst.doc, func() {
		go r.handleAuthFailure(inst)
	})

	inst.mu.Lock()
	inst.dialing = false
	if err != nil {
		inst.mu.Unlock()
		log.Printf("replica %s: transport attach failed: %v", inst.DocumentID, err)
		return
	}
	if inst.destroyed || inst.transport != nil {
		inst.mu.Unlock()
		t.Destroy()
		return
	}
	inst.transport = t
	inst.mu.Unlock()
}

// handleAuthFailure runs the one-shot refresh-and-reattach dance after
// the collab server rejects a token. A second rejection without an
// intervening authenticated acquire gives up and asks the UI to
// re-authenticate.
func (r *Registry) handleAuthFailure(inst *Instance) {
	inst.mu.Lock()
	if inst.destroyed {
		inst.mu.Unlock()
		return
	}
	old := inst.transport
	inst.transport = nil
	tried := inst.refreshTried
	inst.refreshTried = true
	inst.mu.Unlock()

	if old != nil {
		old.Destroy()
	}
	if tried || r.refresh == nil {
		r.publish(inst.DocumentID, "auth_required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.refresh(ctx); err != nil {
		log.Printf("replica %s: session refresh failed: %v", inst.DocumentID, err)
		r.publish(inst.DocumentID, "auth_required", nil)
		return
	}

	inst.mu.Lock()
	if inst.destroyed || inst.dialing || inst.transport != nil {
		inst.mu.Unlock()
		return
	}
	inst.dialing = true
	inst.mu.Unlock()
	r.attachTransport(ctx, inst)
}

// Release drops one reference. The instance stays registered so a
// rapid close/reopen skips re-initialization; eviction is the sweep's
// job.
func (r *Registry) Release(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.entries[documentID]
	if !ok {
		return
	}
	if inst.refCount == 0 {
		log.Printf("replica %s: release without matching acquire", documentID)
		return
	}
	inst.refCount--
	inst.lastAccess = time.Now()
}

// Destroy tears the replica down immediately and forgets it, even when
// parts of the teardown fail.
func (r *Registry) Destroy(documentID string) {
	r.mu.Lock()
	inst, ok := r.entries[documentID]
	r.mu.Unlock()
	if !ok {
		return
	}
	<-inst.ready
	if inst.initErr != nil {
		return
	}

	r.mu.Lock()
	current, ok := r.entries[documentID]
	if !ok || current != inst {
		r.mu.Unlock()
		return
	}
	delete(r.entries, documentID)
	r.mu.Unlock()

	inst.teardown()
	r.publish(documentID, "replica_destroyed", map[string]string{"reason": "destroyed"})
}

// Sweep evicts replicas nobody holds that have not been touched within
// the eviction window. Runs on the background ticker and on demand.
func (r *Registry) Sweep() {
	now := time.Now()
	r.mu.Lock()
	var victims []*Instance
	for id, inst := range r.entries {
		if inst.refCount == 0 && now.Sub(inst.lastAccess) > r.cfg.EvictAfter {
			delete(r.entries, id)
			victims = append(victims, inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range victims {
		inst.teardown()
		r.publish(inst.DocumentID, "replica_destroyed", map[string]string{"reason": "evicted"})
	}
}

// DestroyAll clears every replica and stops the sweep, so no state
// leaks across user identities on logout. Start re-arms the sweep for
// the next session.
func (r *Registry) DestroyAll(ctx context.Context) error {
	r.mu.Lock()
	if r.sweepStop != nil {
		close(r.sweepStop)
		r.sweepStop = nil
	}
	victims := make([]*Instance, 0, len(r.entries))
	for _, inst := range r.entries {
		victims = append(victims, inst)
	}
	r.entries = make(map[string]*Instance)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, inst := range victims {
		inst := inst
		g.Go(func() error {
			<-inst.ready
			if inst.initErr != nil {
				return nil
			}
			err := inst.teardown()
			r.publish(inst.DocumentID, "replica_destroyed", map[string]string{"reason": "logout"})
			return err
		})
	}
	return g.Wait()
}

// Peek returns the live instance without touching the ref count, for
// status reads and content extraction. Instances still constructing
// are invisible.
func (r *Registry) Peek(documentID string) (*Instance, bool) {
	r.mu.Lock()
	inst, ok := r.entries[documentID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-inst.ready:
		if inst.initErr != nil {
			return nil, false
		}
		return inst, true
	default:
		return nil, false
	}
}

type InstanceStatus struct {
	DocumentID     string           `json:"documentId"`
	RefCount       int              `json:"refCount"`
	LastAccessedAt time.Time        `json:"lastAccessedAt"`
	Transport      string           `json:"transportStatus,omitempty"`
	Snapshot       *snapshot.Status `json:"snapshot,omitempty"`
}

// Status reports what is attached to a live replica.
func (r *Registry) Status(documentID string) (InstanceStatus, bool) {
	inst, ok := r.Peek(documentID)
	if !ok {
		return InstanceStatus{}, false
	}

	r.mu.Lock()
	status := InstanceStatus{
		DocumentID:     documentID,
		RefCount:       inst.refCount,
		LastAccessedAt: inst.lastAccess,
	}
	r.mu.Unlock()

	if transport, attached := inst.TransportStatus(); attached {
		status.Transport = transport
	}
	if snap, attached := inst.SchedulerStatus(); attached {
		status.Snapshot = &snap
	}
	return status, true
}

func (r *Registry) publish(documentID, event string, payload any) {
	if r.notifier != nil {
		r.notifier.PublishDocumentEvent(documentID, event, payload)
	}
}
