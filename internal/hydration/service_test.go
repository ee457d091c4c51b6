package hydration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/domain"
)

type fakeReplica struct {
	doc       crdt.Document
	synced    chan struct{}
	transport bool
}

func newFakeReplica(syncedNow bool) *fakeReplica {
	f := &fakeReplica{
		doc:    crdt.NewDocument("engine"),
		synced: make(chan struct{}),
	}
	if syncedNow {
		close(f.synced)
	}
	return f
}

func (f *fakeReplica) Doc() crdt.Document      { return f.doc }
func (f *fakeReplica) Synced() <-chan struct{} { return f.synced }
func (f *fakeReplica) HasTransport() bool      { return f.transport }

type fakeSource struct {
	state     []byte
	stateErr  error
	markdown  string
	html      string
	legacyErr error

	binaryCalls int
	legacyCalls int
}

func (f *fakeSource) BinaryState(ctx context.Context, documentID string) ([]byte, error) {
	f.binaryCalls++
	return f.state, f.stateErr
}

func (f *fakeSource) LegacyContent(ctx context.Context, documentID string) (string, string, error) {
	f.legacyCalls++
	return f.markdown, f.html, f.legacyErr
}

type fakeDebug struct {
	snaps []*domain.DebugSnapshot
	err   error
}

func (f *fakeDebug) SaveDebugSnapshot(snap *domain.DebugSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.snaps = append(f.snaps, snap)
	return nil
}

func noPeek(string) (Replica, bool) { return nil, false }

func newTestService(source ContentSource, peek func(string) (Replica, bool)) *Service {
	if peek == nil {
		peek = noPeek
	}
	return NewService(source, &fakeDebug{}, peek, nil, Config{SyncTimeout: 50 * time.Millisecond})
}

// encodeState builds a standalone document state carrying text.
func encodeState(t *testing.T, text string) []byte {
	t.Helper()
	doc := crdt.NewDocument("remote")
	if err := doc.Container(crdt.ContainerContent).SetText(text); err != nil {
		t.Fatal(err)
	}
	state, err := doc.EncodeState()
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func TestLiveTransportShortCircuits(t *testing.T) {
	source := &fakeSource{markdown: "must not be used"}
	svc := newTestService(source, nil)

	rep := newFakeReplica(true)
	rep.transport = true

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceLive {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceLive)
	}
	if rep.doc.Container(crdt.ContainerContent).Len() != 0 || rep.doc.Container(crdt.ContainerStaging).Len() != 0 {
		t.Error("hydration mutated a live-linked document")
	}
	if source.binaryCalls != 0 || source.legacyCalls != 0 {
		t.Error("hydration consulted sources despite live transport")
	}
}

func TestAlreadyPopulatedIsNoOp(t *testing.T) {
	source := &fakeSource{markdown: "other content"}
	svc := newTestService(source, nil)

	rep := newFakeReplica(true)
	rep.doc.Container(crdt.ContainerContent).SetText("existing body")

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourcePopulated {
		t.Errorf("Source = %q, want %q", outcome.Source, SourcePopulated)
	}
	if got := rep.doc.Container(crdt.ContainerContent).Text(); got != "existing body" {
		t.Errorf("content = %q, want untouched", got)
	}

	// Idempotence: a second call is another no-op.
	again, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil || again.Source != SourcePopulated {
		t.Errorf("second Hydrate() = %+v, %v", again, err)
	}
	if source.binaryCalls != 0 {
		t.Error("populated document still hit the binary source")
	}
}

func TestStagedContentShortCircuits(t *testing.T) {
	source := &fakeSource{state: []byte{0xAA}}
	svc := newTestService(source, nil)

	rep := newFakeReplica(true)
	rep.doc.Container(crdt.ContainerStaging).SetText("import in flight")

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceStaged {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceStaged)
	}
	if source.binaryCalls != 0 {
		t.Error("staged document still hit the binary source")
	}
}

func TestBinarySnapshotWinsOverLegacy(t *testing.T) {
	source := &fakeSource{
		state:    encodeState(t, "from binary"),
		markdown: "from markdown",
	}
	svc := newTestService(source, nil)
	rep := newFakeReplica(true)

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceBinary {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceBinary)
	}
	if got := rep.doc.Container(crdt.ContainerContent).Text(); got != "from binary" {
		t.Errorf("content = %q, want %q", got, "from binary")
	}
	if rep.doc.Container(crdt.ContainerStaging).Len() != 0 {
		t.Error("markdown fallback applied alongside the binary snapshot")
	}
	if source.legacyCalls != 0 {
		t.Error("legacy source consulted despite binary success")
	}
}

func TestLegacyMarkdownIsStagedNotApplied(t *testing.T) {
	source := &fakeSource{markdown: "# Imported\n\nplain notes"}
	svc := newTestService(source, nil)
	rep := newFakeReplica(true)

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceLegacy {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceLegacy)
	}
	if got := rep.doc.Container(crdt.ContainerStaging).Text(); got != "# Imported\n\nplain notes" {
		t.Errorf("staging = %q", got)
	}
	if rep.doc.Container(crdt.ContainerContent).Len() != 0 {
		t.Error("legacy content written to the primary container")
	}
}

func TestLegacyHTMLIsConverted(t *testing.T) {
	source := &fakeSource{html: "<h1>Title</h1><p>Body text</p>"}
	svc := newTestService(source, nil)
	rep := newFakeReplica(true)

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceLegacy {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceLegacy)
	}
	staged := rep.doc.Container(crdt.ContainerStaging).Text()
	if !strings.Contains(staged, "# Title") || !strings.Contains(staged, "Body text") {
		t.Errorf("staged conversion = %q", staged)
	}
}

func TestSyncTimeoutTreatsDocumentAsFresh(t *testing.T) {
	source := &fakeSource{}
	svc := newTestService(source, nil)
	rep := newFakeReplica(false) // synced never fires

	start := time.Now()
	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceEmpty {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceEmpty)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("hydration hung for %v waiting on sync", elapsed)
	}
}

func TestCorruptBinaryFallsBackToLegacy(t *testing.T) {
	source := &fakeSource{
		state:    []byte{0x00, 0x01, 0x02},
		markdown: "rendered fallback",
	}
	svc := newTestService(source, nil)
	rep := newFakeReplica(true)

	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}
	if outcome.Source != SourceLegacy {
		t.Errorf("Source = %q, want %q", outcome.Source, SourceLegacy)
	}
	if got := rep.doc.Container(crdt.ContainerStaging).Text(); got != "rendered fallback" {
		t.Errorf("staging = %q", got)
	}
}

func TestSecondHydrationDoesNotDuplicateStagedContent(t *testing.T) {
	source := &fakeSource{markdown: "once only"}
	svc := newTestService(source, nil)
	rep := newFakeReplica(true)

	if _, err := svc.Hydrate(context.Background(), "doc-1", rep); err != nil {
		t.Fatal(err)
	}
	outcome, err := svc.Hydrate(context.Background(), "doc-1", rep)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Source != SourceStaged {
		t.Errorf("second Source = %q, want %q", outcome.Source, SourceStaged)
	}
	if source.legacyCalls != 1 {
		t.Errorf("legacy reads = %d, want 1", source.legacyCalls)
	}
	if got := rep.doc.Container(crdt.ContainerStaging).Text(); got != "once only" {
		t.Errorf("staging = %q", got)
	}
}

func TestSnapshotBeforeUnload(t *testing.T) {
	rep := newFakeReplica(true)
	rep.doc.Container(crdt.ContainerContent).SetText("closing soon")

	debug := &fakeDebug{}
	svc := NewService(&fakeSource{}, debug, func(id string) (Replica, bool) {
		if id == "doc-1" {
			return rep, true
		}
		return nil, false
	}, nil, Config{})

	svc.SnapshotBeforeUnload("doc-1", "window_close")

	if len(debug.snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(debug.snaps))
	}
	snap := debug.snaps[0]
	if snap.DocumentID != "doc-1" || snap.Reason != "window_close" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.StateVector) == 0 {
		t.Error("StateVector empty")
	}
	if snap.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}

	// Unknown documents and sink failures stay silent.
	svc.SnapshotBeforeUnload("ghost", "window_close")
	debug.err = errors.New("disk full")
	svc.SnapshotBeforeUnload("doc-1", "window_close")
	if len(debug.snaps) != 1 {
		t.Errorf("snapshots = %d, want still 1", len(debug.snaps))
	}
}
