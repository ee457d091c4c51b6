package snapshot

import (
	"context"
	"log"
	"sync"
	"time"

	"quillmark-local-engine/internal/cloud"
	"quillmark-local-engine/internal/crdt"
)

// Uploader is the slice of the cloud API the scheduler needs.
type Uploader interface {
	CreateSnapshot(ctx context.Context, documentID string, state []byte, note string) (*cloud.SnapshotReceipt, error)
}

// CloudIDFunc resolves a local document id to its cloud id. Documents
// that were never pushed have none yet; their snapshots stay pending
// until a push assigns one.
type CloudIDFunc func(documentID string) (string, bool)

type Config struct {
	Debounce time.Duration
}

type Status struct {
	DocumentID      string     `json:"documentId"`
	Pending         int        `json:"pending"`
	Failures        int        `json:"failures"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	LastSyncSuccess bool       `json:"lastSyncSuccess"`
	IsBackingUp     bool       `json:"isBackingUp"`
}

// Scheduler debounces CRDT updates into periodic full-state uploads.
// Uploads are best-effort background work: failures count and retry,
// they never surface to the editing path.
type Scheduler struct {
	documentID string
	doc        crdt.Document
	uploader   Uploader
	cloudID    CloudIDFunc
	debounce   time.Duration
	onStatus   func(Status)

	mu           sync.Mutex
	timer        *time.Timer
	unsub        func()
	pending      int
	failures     int
	lastSyncedAt time.Time
	lastSuccess  bool
	backingUp    bool
	closed       bool
}

func New(doc crdt.Document, documentID string, uploader Uploader, cloudID CloudIDFunc, cfg Config, onStatus func(Status)) *Scheduler {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	s := &Scheduler{
		documentID: documentID,
		doc:        doc,
		uploader:   uploader,
		cloudID:    cloudID,
		debounce:   debounce,
		onStatus:   onStatus,
	}
	s.unsub = doc.Subscribe(func(update []byte, origin string) {
		s.noteUpdate()
	})
	return s
}

func (s *Scheduler) noteUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending++
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, func() { s.flush(false) })
	} else {
		s.timer.Reset(s.debounce)
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		DocumentID:      s.documentID,
		Pending:         s.pending,
		Failures:        s.failures,
		LastSyncSuccess: s.lastSuccess,
		IsBackingUp:     s.backingUp,
	}
	if !s.lastSyncedAt.IsZero() {
		at := s.lastSyncedAt
		status.LastSyncedAt = &at
	}
	return status
}

func (s *Scheduler) publish() {
	if s.onStatus != nil {
		s.onStatus(s.Status())
	}
}

type uploadOutcome int

const (
	uploadOK uploadOutcome = iota
	uploadNoCloudID
	uploadFailed
)

func (s *Scheduler) flush(force bool) {
	s.mu.Lock()
	if s.backingUp || (s.closed && !force) || s.pending == 0 {
		s.mu.Unlock()
		return
	}
	captured := s.pending
	s.backingUp = true
	s.mu.Unlock()
	s.publish()

	outcome := s.upload()

	s.mu.Lock()
	s.backingUp = false
	switch outcome {
	case uploadOK:
		s.pending -= captured
		if s.pending < 0 {
			s.pending = 0
		}
		s.lastSyncedAt = time.Now()
		s.lastSuccess = true
	case uploadNoCloudID:
		// Never pushed; edits stay pending until a push assigns a
		// cloud id and the next update re-arms the timer.
	case uploadFailed:
		s.failures++
		s.lastSuccess = false
		if !s.closed {
			if s.timer == nil {
				s.timer = time.AfterFunc(s.debounce, func() { s.flush(false) })
			} else {
				s.timer.Reset(s.debounce)
			}
		}
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Scheduler) upload() uploadOutcome {
	cloudID, ok := s.cloudID(s.documentID)
	if !ok {
		return uploadNoCloudID
	}
	state, err := s.doc.EncodeState()
	if err != nil {
		log.Printf("snapshot %s: encoding state: %v", s.documentID, err)
		return uploadFailed
	}
	if _, err := s.uploader.CreateSnapshot(context.Background(), cloudID, state, ""); err != nil {
		log.Printf("snapshot %s: upload failed: %v", s.documentID, err)
		return uploadFailed
	}
	return uploadOK
}

// Destroy detaches the observer and, when edits are still unflushed,
// makes one last synchronous upload attempt.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	unsub := s.unsub
	dirty := s.pending > 0
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if dirty {
		s.flush(true)
	}
}
