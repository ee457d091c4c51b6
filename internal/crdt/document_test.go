package crdt

import (
	"bytes"
	"testing"
)

func TestContainerOps(t *testing.T) {
	doc := NewDocument("actor-a")

	content := doc.Container(ContainerContent)
	if content.Len() != 0 {
		t.Fatalf("new container Len() = %d, want 0", content.Len())
	}

	if err := content.SetText("hello"); err != nil {
		t.Fatalf("SetText() error = %v", err)
	}
	if err := content.Append(" world"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if got := content.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}

	if doc.Container(ContainerStaging).Len() != 0 {
		t.Error("staging container should be untouched")
	}
}

func TestStateRoundTrip(t *testing.T) {
	src := NewDocument("actor-a")
	src.Container(ContainerContent).SetText("round trip body")
	src.Container(ContainerStaging).SetText("staged")

	state, err := src.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState() error = %v", err)
	}

	dst := NewDocument("actor-b")
	if err := dst.ApplyUpdate(state, "test"); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	if got := dst.Container(ContainerContent).Text(); got != "round trip body" {
		t.Errorf("content after round trip = %q, want %q", got, "round trip body")
	}
	if got := dst.Container(ContainerStaging).Text(); got != "staged" {
		t.Errorf("staging after round trip = %q, want %q", got, "staged")
	}
}

func TestConvergence(t *testing.T) {
	a := NewDocument("actor-a")
	b := NewDocument("actor-b")

	a.Container(ContainerContent).SetText("base")
	stateA, _ := a.EncodeState()
	b.ApplyUpdate(stateA, "test")

	// Concurrent appends on both replicas, then a full exchange.
	a.Container(ContainerContent).Append(" from-a")
	b.Container(ContainerContent).Append(" from-b")

	stateA, _ = a.EncodeState()
	stateB, _ := b.EncodeState()
	a.ApplyUpdate(stateB, "test")
	b.ApplyUpdate(stateA, "test")

	textA := a.Container(ContainerContent).Text()
	textB := b.Container(ContainerContent).Text()
	if textA != textB {
		t.Errorf("replicas diverged: %q vs %q", textA, textB)
	}
}

func TestApplyUpdateIdempotent(t *testing.T) {
	a := NewDocument("actor-a")
	a.Container(ContainerContent).Append("once")
	state, _ := a.EncodeState()

	b := NewDocument("actor-b")
	b.ApplyUpdate(state, "test")
	b.ApplyUpdate(state, "test")
	b.ApplyUpdate(state, "test")

	if got := b.Container(ContainerContent).Text(); got != "once" {
		t.Errorf("repeated apply duplicated content: %q", got)
	}
}

func TestSubscribeOrigins(t *testing.T) {
	doc := NewDocument("actor-a")

	var origins []string
	var updates [][]byte
	cancel := doc.Subscribe(func(update []byte, origin string) {
		origins = append(origins, origin)
		updates = append(updates, update)
	})

	doc.Container(ContainerContent).SetText("local edit")
	if len(origins) != 1 || origins[0] != OriginLocal {
		t.Fatalf("local op origins = %v, want [local]", origins)
	}

	other := NewDocument("actor-b")
	other.Container(ContainerContent).Append(" remote")
	remoteState, _ := other.EncodeState()

	doc.ApplyUpdate(remoteState, "transport")
	if len(origins) != 2 || origins[1] != "transport" {
		t.Fatalf("remote apply origins = %v, want transport appended", origins)
	}

	// A known update must not re-notify.
	doc.ApplyUpdate(remoteState, "transport")
	if len(origins) != 2 {
		t.Errorf("duplicate apply notified observers, origins = %v", origins)
	}

	cancel()
	doc.Container(ContainerContent).Append("!")
	if len(origins) != 2 {
		t.Error("cancelled subscriber still notified")
	}

	// The notified update must round-trip on its own.
	sink := NewDocument("actor-c")
	for _, u := range updates {
		if err := sink.ApplyUpdate(u, "test"); err != nil {
			t.Fatalf("ApplyUpdate(observed update) error = %v", err)
		}
	}
}

func TestEncodeStateVector(t *testing.T) {
	doc := NewDocument("actor-a")
	doc.Container(ContainerContent).SetText("x")
	doc.Container(ContainerContent).Append("y")

	vector, err := doc.EncodeStateVector()
	if err != nil {
		t.Fatalf("EncodeStateVector() error = %v", err)
	}
	if len(vector) == 0 {
		t.Fatal("EncodeStateVector() returned empty vector")
	}

	state, _ := doc.EncodeState()
	if bytes.Equal(vector, state) {
		t.Error("state vector should be a compact summary, not full state")
	}
	if len(vector) >= len(state) {
		t.Errorf("state vector (%d bytes) not smaller than state (%d bytes)", len(vector), len(state))
	}
}

func TestClosedDocument(t *testing.T) {
	doc := NewDocument("actor-a")
	doc.Container(ContainerContent).SetText("before")
	state, _ := doc.EncodeState()

	doc.Close()

	if err := doc.ApplyUpdate(state, "test"); err != ErrClosed {
		t.Errorf("ApplyUpdate() after Close error = %v, want ErrClosed", err)
	}
	if _, err := doc.EncodeState(); err != ErrClosed {
		t.Errorf("EncodeState() after Close error = %v, want ErrClosed", err)
	}
	if err := doc.Container(ContainerContent).SetText("after"); err != ErrClosed {
		t.Errorf("SetText() after Close error = %v, want ErrClosed", err)
	}
}

func TestMalformedUpdates(t *testing.T) {
	doc := NewDocument("actor-a")

	tests := []struct {
		name   string
		update []byte
	}{
		{name: "bad magic", update: []byte{0x00, 0x01, 0x02}},
		{name: "truncated header", update: []byte{frameMagic}},
		{name: "truncated clock", update: []byte{frameMagic, frameVersion, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := doc.ApplyUpdate(tt.update, "test"); err == nil {
				t.Error("ApplyUpdate() expected error for malformed update")
			}
		})
	}
}
