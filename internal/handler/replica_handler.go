package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/domain"
	"quillmark-local-engine/internal/hydration"
	"quillmark-local-engine/internal/replica"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/pkg/response"

	"github.com/gorilla/mux"
)

// DebugSnapshotLister reads back the unload captures for one document.
type DebugSnapshotLister interface {
	DebugSnapshots(documentID string) ([]*domain.DebugSnapshot, error)
}

// ReplicaHandler exposes the lifecycle of in-memory CRDT replicas: the
// UI opens a replica when a document gains focus, streams updates into
// it while editing, and releases it on blur.
type ReplicaHandler struct {
	registry       *replica.Registry
	hydrator       *hydration.Service
	sessionService *service.SessionService
	snapshots      DebugSnapshotLister
}

func NewReplicaHandler(registry *replica.Registry, hydrator *hydration.Service, sessionService *service.SessionService, snapshots DebugSnapshotLister) *ReplicaHandler {
	return &ReplicaHandler{
		registry:       registry,
		hydrator:       hydrator,
		sessionService: sessionService,
		snapshots:      snapshots,
	}
}

type openReplicaRequest struct {
	EnableCollaboration bool `json:"enable_collaboration"`
}

func (h *ReplicaHandler) Open(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// The body is optional; no body means an offline-default open.
	var req openReplicaRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	inst, err := h.registry.Acquire(r.Context(), id, replica.AcquireOptions{
		EnableCollaboration: req.EnableCollaboration,
		Authenticated:       h.sessionService.IsAuthenticated(),
	})
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	outcome, err := h.hydrator.Hydrate(r.Context(), id, inst)
	if err != nil {
		h.registry.Release(id)
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, outcome)
}

type releaseReplicaRequest struct {
	Reason string `json:"reason"`
}

func (h *ReplicaHandler) Release(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req releaseReplicaRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "release"
	}

	// Capture the debug snapshot while the replica is still alive; the
	// release below may tear it down when this was the last reference.
	h.hydrator.SnapshotBeforeUnload(id, req.Reason)
	h.registry.Release(id)

	response.Success(w, map[string]string{"message": "replica released"})
}

// State exports the full CRDT state as a single binary update.
func (h *ReplicaHandler) State(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, ok := h.registry.Peek(id)
	if !ok {
		response.NotFound(w, "replica not open")
		return
	}

	state, err := inst.Doc().EncodeState()
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Octets(w, http.StatusOK, state)
}

// ApplyUpdate merges one binary CRDT update coming from the editor.
func (h *ReplicaHandler) ApplyUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, ok := h.registry.Peek(id)
	if !ok {
		response.NotFound(w, "replica not open")
		return
	}

	update, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, "unreadable update body")
		return
	}
	if len(update) == 0 {
		response.BadRequest(w, "empty update")
		return
	}

	if err := inst.Doc().ApplyUpdate(update, crdt.OriginLocal); err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, map[string]string{"message": "update applied"})
}

// Awareness forwards presence payloads (cursor, selection) to the live
// collaboration link. A replica without a transport swallows them.
func (h *ReplicaHandler) Awareness(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, ok := h.registry.Peek(id)
	if !ok {
		response.NotFound(w, "replica not open")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil || len(payload) == 0 {
		response.BadRequest(w, "empty awareness payload")
		return
	}

	inst.SetAwareness(payload)
	response.Success(w, map[string]string{"message": "awareness forwarded"})
}

func (h *ReplicaHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, ok := h.registry.Status(mux.Vars(r)["id"])
	if !ok {
		response.NotFound(w, "replica not open")
		return
	}

	response.Success(w, status)
}

type debugSnapshotRequest struct {
	Reason string `json:"reason"`
}

// DebugSnapshot records a state-vector snapshot for postmortems. The UI
// fires this from its beforeunload hook.
func (h *ReplicaHandler) DebugSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req debugSnapshotRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "manual"
	}

	if _, ok := h.registry.Peek(id); !ok {
		response.NotFound(w, "replica not open")
		return
	}

	h.hydrator.SnapshotBeforeUnload(id, req.Reason)
	response.Success(w, map[string]string{"message": "snapshot captured"})
}

// ListDebugSnapshots serves the captures recorded for a document, open
// or not. Postmortems usually happen after the replica is gone.
func (h *ReplicaHandler) ListDebugSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.snapshots.DebugSnapshots(mux.Vars(r)["id"])
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, snaps)
}
