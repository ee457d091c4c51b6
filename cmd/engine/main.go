package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quillmark-local-engine/internal/cloud"
	"quillmark-local-engine/internal/config"
	"quillmark-local-engine/internal/crdt"
	"quillmark-local-engine/internal/handler"
	"quillmark-local-engine/internal/hydration"
	"quillmark-local-engine/internal/middleware"
	"quillmark-local-engine/internal/persistence"
	"quillmark-local-engine/internal/replica"
	"quillmark-local-engine/internal/repository"
	"quillmark-local-engine/internal/service"
	"quillmark-local-engine/internal/snapshot"
	"quillmark-local-engine/internal/transport"
	"quillmark-local-engine/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := persistence.Open(persistence.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		GCInterval: cfg.Storage.GCInterval,
	})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	stores, err := repository.OpenStores(cfg, store)
	if err != nil {
		log.Fatalf("Failed to open repositories: %v", err)
	}

	sessionService := service.NewSessionService()

	remote := cloud.NewClient(cloud.Config{
		BaseURL:    cfg.Cloud.BaseURL,
		Timeout:    cfg.Cloud.Timeout,
		MaxRetries: cfg.Cloud.MaxRetries,
	}, sessionService.Token)
	sessionService.SetRefresher(remote)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxClients,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	go wsManager.Run()

	// One CRDT actor identity per engine process. Update attribution
	// only needs to distinguish replicas, not documents.
	actor := uuid.New().String()

	cloudIDFor := func(documentID string) (string, bool) {
		record, err := stores.SyncRecords.Get(documentID)
		if err != nil || record.CloudID == nil || *record.CloudID == "" {
			return "", false
		}
		return *record.CloudID, true
	}

	registry := replica.NewRegistry(
		replica.Config{
			SweepInterval: cfg.Replica.SweepInterval,
			EvictAfter:    cfg.Replica.EvictAfter,
		},
		replica.Factories{
			NewDocument: func(documentID string) crdt.Document {
				return crdt.NewDocument(actor)
			},
			NewPersistence: func(documentID string) replica.Persistence {
				return persistence.NewAdapter(store, documentID)
			},
			NewTransport: func(ctx context.Context, documentID string, doc crdt.Document, onAuthFailed func()) (replica.Transport, error) {
				token, err := sessionService.Token(ctx)
				if err != nil {
					return nil, err
				}
				return transport.Dial(ctx, transport.Config{
					URL:        cfg.Collab.URL,
					WriteWait:  cfg.WebSocket.WriteWait,
					PongWait:   cfg.WebSocket.PongWait,
					PingPeriod: cfg.WebSocket.PingPeriod,
				}, documentID, token, doc, transport.Options{
					OnAuthFailed: onAuthFailed,
					OnStatus: func(status string) {
						wsManager.PublishDocumentEvent(documentID, "transport_status", map[string]string{"status": status})
					},
					OnAwareness: func(payload []byte) {
						wsManager.PublishDocumentEvent(documentID, "awareness", json.RawMessage(payload))
					},
				})
			},
			NewScheduler: func(documentID string, doc crdt.Document) replica.Scheduler {
				return snapshot.New(doc, documentID, remote, cloudIDFor,
					snapshot.Config{Debounce: cfg.Snapshot.Debounce},
					func(status snapshot.Status) {
						wsManager.PublishDocumentEvent(documentID, "snapshot_status", status)
					},
				)
			},
		},
		sessionService.Refresh,
		wsManager,
	)
	registry.Start()

	sessionService.OnLogout(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := registry.DestroyAll(ctx); err != nil {
			log.Printf("Tearing down replicas on logout: %v", err)
		}
		// DestroyAll parks the sweeper; logout is not shutdown.
		registry.Start()
	})

	hydrator := hydration.NewService(
		service.NewDocumentContentSource(stores.Documents),
		store,
		func(documentID string) (hydration.Replica, bool) {
			inst, ok := registry.Peek(documentID)
			if !ok {
				return nil, false
			}
			return inst, true
		},
		wsManager,
		hydration.Config{
			SyncTimeout: cfg.Replica.HydrationTimeout,
			Environment: cfg.Server.Env,
		},
	)

	workspaceService := service.NewWorkspaceService(stores.Workspaces, stores.Documents)
	folderService := service.NewFolderService(stores.Folders, stores.Workspaces)
	documentService := service.NewDocumentService(
		stores.Documents,
		stores.Workspaces,
		stores.Templates,
		stores.Diagrams,
		stores.SyncRecords,
		store,
		registry,
		sessionService,
		remote,
	)
	reconcilerService := service.NewReconcilerService(
		stores.Documents,
		stores.Folders,
		stores.Workspaces,
		stores.SyncRecords,
		remote,
		sessionService,
		registry,
		wsManager,
	)

	if _, err := workspaceService.EnsureDefault(); err != nil {
		log.Fatalf("Failed to ensure default workspace: %v", err)
	}

	sessionHandler := handler.NewSessionHandler(sessionService, wsManager)
	documentHandler := handler.NewDocumentHandler(documentService)
	replicaHandler := handler.NewReplicaHandler(registry, hydrator, sessionService, store)
	syncHandler := handler.NewSyncHandler(reconcilerService)
	workspaceHandler := handler.NewWorkspaceHandler(workspaceService)
	folderHandler := handler.NewFolderHandler(folderService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
	healthHandler := handler.NewHealthHandler(wsManager)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.EngineKeyMiddleware(cfg.Server.EngineKey))

	api.HandleFunc("/session", sessionHandler.Set).Methods("POST", "OPTIONS")
	api.HandleFunc("/session", sessionHandler.Clear).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/session", sessionHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/session/refresh", sessionHandler.Refresh).Methods("POST", "OPTIONS")

	api.HandleFunc("/documents", documentHandler.Import).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents", documentHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/from-template", documentHandler.ApplyTemplate).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}", documentHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/{id}", documentHandler.UpdateMetadata).Methods("PATCH", "OPTIONS")
	api.HandleFunc("/documents/{id}", documentHandler.Delete).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/documents/{id}/open", replicaHandler.Open).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/release", replicaHandler.Release).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/state", replicaHandler.State).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/{id}/updates", replicaHandler.ApplyUpdate).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/awareness", replicaHandler.Awareness).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/debug-snapshot", replicaHandler.DebugSnapshot).Methods("POST", "OPTIONS")
	api.HandleFunc("/documents/{id}/debug-snapshots", replicaHandler.ListDebugSnapshots).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/{id}/replica", replicaHandler.Status).Methods("GET", "OPTIONS")

	api.HandleFunc("/sync/documents/{id}/push", syncHandler.PushDocument).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/documents/{id}/pull", syncHandler.PullDocument).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/folders/{id}/push", syncHandler.PushFolder).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/{id}/local-only", syncHandler.MarkAsLocalOnly).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/{id}/status", syncHandler.Status).Methods("GET", "OPTIONS")

	api.HandleFunc("/workspaces", workspaceHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/workspaces", workspaceHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/workspaces/{id}", workspaceHandler.Get).Methods("GET", "OPTIONS")

	api.HandleFunc("/folders", folderHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/folders", folderHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/folders/{id}", folderHandler.Get).Methods("GET", "OPTIONS")

	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(middleware.EngineKeyMiddleware(cfg.Server.EngineKey))
	ws.HandleFunc("", wsHandler.HandleConnection)

	r.HandleFunc("/health", healthHandler.Health).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Quillmark Local Engine on %s (env: %s, storage: %s)",
			addr, cfg.Server.Env, cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Replicas flush their snapshots before the store goes away.
	if err := registry.DestroyAll(ctx); err != nil {
		log.Printf("Tearing down replicas: %v", err)
	}

	if err := store.Close(); err != nil {
		log.Printf("Closing storage: %v", err)
	}

	log.Println("Engine stopped gracefully")
}
