package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager fans engine events out to connected UI windows. Each client
// subscribes to the documents it has open; events for other documents
// never cross the wire. Events are advisory status, so a client that
// cannot keep up loses events rather than stalling the engine.
type Manager struct {
	clients        map[string]*Client
	subscriptions  map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxClients     int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
}

func NewManager(maxClients int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		subscriptions:  make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxClients:     maxClients,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if len(m.clients) >= m.maxClients {
		log.Printf("[ws] max clients reached, rejecting %s", client.ID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	log.Printf("[ws] client connected: %s", client.ID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		for documentID, subscribers := range m.subscriptions {
			delete(subscribers, client.ID)
			if len(subscribers) == 0 {
				delete(m.subscriptions, documentID)
			}
		}

		close(client.Send)
		log.Printf("[ws] client disconnected: %s", client.ID)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("[ws] error unmarshaling message: %v", err)
		return
	}

	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe:
		var payload SubscriptionPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			log.Printf("[ws] bad subscription payload: %v", err)
			return
		}
		if payload.DocumentID == "" {
			return
		}
		if msg.Type == TypeSubscribe {
			m.subscribe(clientMsg.Client, payload.DocumentID)
		} else {
			m.unsubscribe(clientMsg.Client, payload.DocumentID)
		}

	case TypePing:
		pong, err := NewMessage(TypePong, nil)
		if err != nil {
			return
		}
		if err := m.SendToClient(clientMsg.Client.ID, pong); err != nil {
			log.Printf("[ws] error sending pong: %v", err)
		}

	default:
		log.Printf("[ws] ignoring message type %q from %s", msg.Type, clientMsg.Client.ID)
	}
}

func (m *Manager) subscribe(client *Client, documentID string) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	if m.subscriptions[documentID] == nil {
		m.subscriptions[documentID] = make(map[string]bool)
	}
	m.subscriptions[documentID][client.ID] = true
}

func (m *Manager) unsubscribe(client *Client, documentID string) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if subscribers, ok := m.subscriptions[documentID]; ok {
		delete(subscribers, client.ID)
		if len(subscribers) == 0 {
			delete(m.subscriptions, documentID)
		}
	}
}

// PublishDocumentEvent delivers an event to every client subscribed to
// the document. A full send buffer drops the event for that client.
func (m *Manager) PublishDocumentEvent(documentID, event string, payload interface{}) {
	raw, err := m.encodeEvent(documentID, event, payload)
	if err != nil {
		log.Printf("[ws] error encoding %s event: %v", event, err)
		return
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.subscriptions[documentID] {
		client, ok := m.clients[clientID]
		if !ok {
			continue
		}
		select {
		case client.Send <- raw:
		default:
			log.Printf("[ws] client %s send buffer full, dropping %s event", clientID, event)
		}
	}
}

// Broadcast delivers an engine-wide event to every connected client,
// subscribed or not.
func (m *Manager) Broadcast(event string, payload interface{}) {
	raw, err := m.encodeEvent("", event, payload)
	if err != nil {
		log.Printf("[ws] error encoding %s event: %v", event, err)
		return
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID, client := range m.clients {
		select {
		case client.Send <- raw:
		default:
			log.Printf("[ws] client %s send buffer full, dropping %s event", clientID, event)
		}
	}
}

func (m *Manager) encodeEvent(documentID, event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = bytes
	}

	msg, err := NewMessage(TypeEvent, EventPayload{
		DocumentID: documentID,
		Event:      event,
		Data:       data,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("[ws] client %s send buffer full", clientID)
	}

	return nil
}

func (m *Manager) ClientCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}
