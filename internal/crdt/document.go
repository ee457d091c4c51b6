package crdt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"quillmark-local-engine/pkg/hash"
)

// Container names every document carries. The content container holds
// the document body; staging holds converted legacy content waiting to
// be adopted by the editor.
const (
	ContainerContent = "content"
	ContainerStaging = "staging"
)

// Origins tag where an update entered the document, so adapters can
// skip their own echoes when observing.
const (
	OriginLocal = "local"
)

var ErrClosed = errors.New("document is closed")

type UpdateFunc func(update []byte, origin string)

// Document is the replicated structure behind every open document. The
// engine treats it as an opaque merge engine: inject updates, encode
// state, read containers. Updates are idempotent and commutative, so
// applying the same state twice or out of order converges.
type Document interface {
	// ApplyUpdate merges an encoded update. Observers are notified with
	// the given origin unless every frame in it was already known.
	ApplyUpdate(update []byte, origin string) error
	// EncodeState exports the full document as one update that
	// round-trips losslessly through ApplyUpdate.
	EncodeState() ([]byte, error)
	// EncodeStateVector exports the compact per-actor clock summary.
	EncodeStateVector() ([]byte, error)
	Container(name string) Container
	Subscribe(fn UpdateFunc) (cancel func())
	Close()
}

type Container interface {
	Len() int
	Text() string
	SetText(text string) error
	Append(text string) error
}

const (
	frameMagic   = 0x51
	frameVersion = 0x01

	opSet    = 0x01
	opAppend = 0x02
)

type frame struct {
	clock     uint64
	actor     string
	container string
	op        byte
	data      []byte
}

// less orders frames totally: lamport clock, then actor, then payload
// key. Total order makes replay deterministic on every replica.
func (f frame) less(other frame) bool {
	if f.clock != other.clock {
		return f.clock < other.clock
	}
	if f.actor != other.actor {
		return f.actor < other.actor
	}
	return hash.UpdateKey(f.data) < hash.UpdateKey(other.data)
}

type document struct {
	mu      sync.Mutex
	actor   string
	clock   uint64
	frames  []frame
	seen    map[string]struct{}
	texts   map[string]string
	subs    map[int]UpdateFunc
	nextSub int
	closed  bool
}

// NewDocument builds an empty document owned by the given actor.
// Actor ids only need to be unique per device session.
func NewDocument(actor string) Document {
	return &document{
		actor: actor,
		seen:  make(map[string]struct{}),
		texts: make(map[string]string),
		subs:  make(map[int]UpdateFunc),
	}
}

func (d *document) ApplyUpdate(update []byte, origin string) error {
	frames, err := decodeFrames(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	fresh := d.merge(frames)
	subs := d.snapshotSubs()
	d.mu.Unlock()

	if fresh {
		for _, fn := range subs {
			fn(update, origin)
		}
	}

	return nil
}

// merge inserts unseen frames, advances the clock past them, and
// rebuilds container texts. Caller holds the lock.
func (d *document) merge(frames []frame) bool {
	fresh := false
	for _, f := range frames {
		key := frameKey(f)
		if _, ok := d.seen[key]; ok {
			continue
		}
		d.seen[key] = struct{}{}
		d.frames = append(d.frames, f)
		if f.clock > d.clock {
			d.clock = f.clock
		}
		fresh = true
	}

	if fresh {
		sort.Slice(d.frames, func(i, j int) bool {
			return d.frames[i].less(d.frames[j])
		})
		d.rebuild()
	}

	return fresh
}

func (d *document) rebuild() {
	texts := make(map[string]string, len(d.texts))
	for _, f := range d.frames {
		switch f.op {
		case opSet:
			texts[f.container] = string(f.data)
		case opAppend:
			texts[f.container] += string(f.data)
		}
	}
	d.texts = texts
}

func (d *document) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	var out []byte
	for _, f := range d.frames {
		out = append(out, encodeFrame(f)...)
	}
	return out, nil
}

func (d *document) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	clocks := make(map[string]uint64)
	for _, f := range d.frames {
		if f.clock > clocks[f.actor] {
			clocks[f.actor] = f.clock
		}
	}

	actors := make([]string, 0, len(clocks))
	for actor := range clocks {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	out := binary.BigEndian.AppendUint16(nil, uint16(len(actors)))
	for _, actor := range actors {
		out = append(out, byte(len(actor)))
		out = append(out, actor...)
		out = binary.BigEndian.AppendUint64(out, clocks[actor])
	}
	return out, nil
}

func (d *document) Container(name string) Container {
	return &container{doc: d, name: name}
}

func (d *document) Subscribe(fn UpdateFunc) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

func (d *document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.subs = make(map[int]UpdateFunc)
}

// localOp records an operation authored on this replica and notifies
// observers with the local origin so adapters propagate it.
func (d *document) localOp(containerName string, op byte, data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	d.clock++
	f := frame{
		clock:     d.clock,
		actor:     d.actor,
		container: containerName,
		op:        op,
		data:      data,
	}
	d.merge([]frame{f})
	update := encodeFrame(f)
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, fn := range subs {
		fn(update, OriginLocal)
	}
	return nil
}

func (d *document) snapshotSubs() []UpdateFunc {
	subs := make([]UpdateFunc, 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (d *document) text(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[name]
}

type container struct {
	doc  *document
	name string
}

func (c *container) Len() int {
	return len(c.doc.text(c.name))
}

func (c *container) Text() string {
	return c.doc.text(c.name)
}

func (c *container) SetText(text string) error {
	return c.doc.localOp(c.name, opSet, []byte(text))
}

func (c *container) Append(text string) error {
	return c.doc.localOp(c.name, opAppend, []byte(text))
}

func frameKey(f frame) string {
	return hash.UpdateKey(encodeFrame(f))
}

func encodeFrame(f frame) []byte {
	out := []byte{frameMagic, frameVersion}
	out = binary.BigEndian.AppendUint64(out, f.clock)
	out = append(out, byte(len(f.actor)))
	out = append(out, f.actor...)
	out = append(out, byte(len(f.container)))
	out = append(out, f.container...)
	out = append(out, f.op)
	out = binary.BigEndian.AppendUint32(out, uint32(len(f.data)))
	out = append(out, f.data...)
	return out
}

func decodeFrames(b []byte) ([]frame, error) {
	var frames []frame

	for len(b) > 0 {
		if len(b) < 2 || b[0] != frameMagic {
			return nil, fmt.Errorf("malformed update: bad frame header")
		}
		if b[1] != frameVersion {
			return nil, fmt.Errorf("malformed update: unsupported frame version %d", b[1])
		}
		b = b[2:]

		if len(b) < 8 {
			return nil, errTruncated
		}
		clock := binary.BigEndian.Uint64(b)
		b = b[8:]

		actor, rest, err := readString(b)
		if err != nil {
			return nil, err
		}
		b = rest

		containerName, rest, err := readString(b)
		if err != nil {
			return nil, err
		}
		b = rest

		if len(b) < 5 {
			return nil, errTruncated
		}
		op := b[0]
		if op != opSet && op != opAppend {
			return nil, fmt.Errorf("malformed update: unknown op %d", op)
		}
		dataLen := binary.BigEndian.Uint32(b[1:5])
		b = b[5:]

		if uint32(len(b)) < dataLen {
			return nil, errTruncated
		}
		data := make([]byte, dataLen)
		copy(data, b[:dataLen])
		b = b[dataLen:]

		frames = append(frames, frame{
			clock:     clock,
			actor:     actor,
			container: containerName,
			op:        op,
			data:      data,
		})
	}

	return frames, nil
}

var errTruncated = errors.New("malformed update: truncated frame")

func readString(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, errTruncated
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, errTruncated
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
