package websocket

import (
	"encoding/json"
	"log"
)

// Event is a dashboard notification pushed to connected clients whenever an
// entry lifecycle transition commits.
type Event struct {
	Type    string      `json:"type"`
	EntryID uint        `json:"entryId,omitempty"`
	Serial  int         `json:"serial,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event types
const (
	EventEntryUpdated = "entry_updated"
	EventEntryDeleted = "entry_deleted"
	EventLockCleared  = "lock_cleared"
)

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates an empty hub. Run must be started on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister/broadcast traffic until the process
// exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// Broadcast sends an event to every connected dashboard client.
func (h *Hub) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Printf("WS: failed to marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("WS: broadcast queue full, dropping %s", ev.Type)
	}
}
