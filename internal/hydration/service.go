package hydration

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/pkg/htmlconv"
)

// Origin tags updates written by hydration so persistence observers
// record them like any other edit.
const Origin = "hydration"

// Source values reported in the outcome, ordered by authority: a live
// link outranks anything already in memory, which outranks the binary
// snapshot, which outranks rendered fallbacks.
const (
	SourceLive      = "live"
	SourcePopulated = "populated"
	SourceStaged    = "staged"
	SourceBinary    = "binary"
	SourceLegacy    = "legacy"
	SourceEmpty     = "empty"
)

// Replica is the slice of a live replica hydration needs.
type Replica interface {
	Doc() crdt.Document
	Synced() <-chan struct{}
	HasTransport() bool
}

// ContentSource supplies the fallback content for a document whose
// CRDT comes up empty after the local log replays.
type ContentSource interface {
	// BinaryState returns a durable CRDT snapshot, or nil when none
	// was recorded.
	BinaryState(ctx context.Context, documentID string) ([]byte, error)
	// LegacyContent returns rendered markdown and/or HTML imported
	// from older exports.
	LegacyContent(ctx context.Context, documentID string) (markdown, html string, err error)
}

// DebugSink stores unload captures for postmortems.
type DebugSink interface {
	SaveDebugSnapshot(snap *domain.DebugSnapshot) error
}

type Notifier interface {
	PublishDocumentEvent(documentID, event string, payload any)
}

type Config struct {
	// SyncTimeout bounds the wait for the persistence replay signal; a
	// never-before-seen document has nothing to replay and must not
	// hang here.
	SyncTimeout time.Duration
	Environment string
}

type Outcome struct {
	DocumentID string `json:"documentId"`
	Source     string `json:"source"`
}

// Service fills a freshly opened, empty replica from the best
// available source, exactly once, idempotently.
type Service struct {
	source   ContentSource
	debug    DebugSink
	peek     func(documentID string) (Replica, bool)
	notifier Notifier
	timeout  time.Duration
	devMode  bool
}

func NewService(source ContentSource, debug DebugSink, peek func(documentID string) (Replica, bool), notifier Notifier, cfg Config) *Service {
	timeout := cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 400 * time.Millisecond
	}
	return &Service{
		source:   source,
		debug:    debug,
		peek:     peek,
		notifier: notifier,
		timeout:  timeout,
		devMode:  cfg.Environment == "development",
	}
}

// Hydrate populates the replica. Each step short-circuits, encoding a
// strict authority order that must not be rearranged: live link first,
// then content already present, then the binary snapshot, and rendered
// fallbacks last.
func (s *Service) Hydrate(ctx context.Context, documentID string, rep Replica) (Outcome, error) {
	outcome := Outcome{DocumentID: documentID}

	// A live link means remote peers are merging into this CRDT right
	// now; bulk-injecting snapshots mid-merge is never safe.
	if rep.HasTransport() {
		outcome.Source = SourceLive
		return outcome, nil
	}

	select {
	case <-rep.Synced():
	case <-time.After(s.timeout):
		log.Printf("hydration %s: persistence sync signal timed out, treating as fresh", documentID)
	case <-ctx.Done():
		return outcome, ctx.Err()
	}

	doc := rep.Doc()
	if doc.Container(crdt.ContainerContent).Len() > 0 {
		outcome.Source = SourcePopulated
		return outcome, nil
	}
	if doc.Container(crdt.ContainerStaging).Len() > 0 {
		outcome.Source = SourceStaged
		return outcome, nil
	}

	binaryPresent := false
	state, err := s.source.BinaryState(ctx, documentID)
	if err != nil {
		log.Printf("hydration %s: reading binary snapshot: %v", documentID, err)
	}
	if len(state) > 0 {
		binaryPresent = true
		if err := doc.ApplyUpdate(state, Origin); err != nil {
			log.Printf("hydration %s: binary snapshot rejected: %v", documentID, err)
		} else {
			outcome.Source = SourceBinary
			s.publish(outcome)
			return outcome, nil
		}
	}

	markdown, html, err := s.source.LegacyContent(ctx, documentID)
	if err != nil {
		log.Printf("hydration %s: reading legacy content: %v", documentID, err)
		outcome.Source = SourceEmpty
		return outcome, nil
	}
	if markdown == "" && html != "" {
		markdown, err = htmlconv.ToMarkdown(html)
		if err != nil {
			log.Printf("hydration %s: converting legacy html: %v", documentID, err)
		}
	}
	if markdown == "" {
		outcome.Source = SourceEmpty
		return outcome, nil
	}

	if binaryPresent && s.devMode {
		log.Printf("hydration %s: CONTRACT VIOLATION: rendered fallback applied while a binary snapshot exists", documentID)
	}

	// Staged, not written to the content container: the editor adopts
	// staged text itself, which keeps hydration idempotent.
	if err := doc.Container(crdt.ContainerStaging).SetText(markdown); err != nil {
		return outcome, err
	}
	outcome.Source = SourceLegacy
	s.publish(outcome)
	return outcome, nil
}

// SnapshotBeforeUnload captures the compact state vector of an open
// replica with provenance metadata. Purely diagnostic: every failure
// is logged and swallowed.
func (s *Service) SnapshotBeforeUnload(documentID, reason string) {
	rep, ok := s.peek(documentID)
	if !ok {
		return
	}
	vector, err := rep.Doc().EncodeStateVector()
	if err != nil {
		log.Printf("unload snapshot %s: encoding state vector: %v", documentID, err)
		return
	}
	snap := &domain.DebugSnapshot{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		Reason:      reason,
		StateVector: vector,
		CapturedAt:  time.Now(),
	}
	if err := s.debug.SaveDebugSnapshot(snap); err != nil {
		log.Printf("unload snapshot %s: saving: %v", documentID, err)
	}
}

func (s *Service) publish(outcome Outcome) {
	if s.notifier != nil {
		s.notifier.PublishDocumentEvent(outcome.DocumentID, "hydrated", outcome)
	}
}
