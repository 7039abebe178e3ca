package ws

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// AgentsRoom — зарезервированная комната, куда входят соединения операторов
const AgentsRoom = "agents"

// Conn — минимум, который хаб знает о соединении. Реализуется Client'ом;
// протокольный слой и тесты работают через этот интерфейс.
type Conn interface {
	ConnID() uuid.UUID
	SendJSON(v interface{}) error
}

// Hub хранит живые соединения и их членство в комнатах
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
	rooms map[string]map[uuid.UUID]Conn
}

// NewHub создает пустой хаб
func NewHub() *Hub {
	return &Hub{
		conns: make(map[uuid.UUID]Conn),
		rooms: make(map[string]map[uuid.UUID]Conn),
	}
}

// Register регистрирует соединение в хабе
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ConnID()] = c
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("Hub: соединение %s зарегистрировано, всего: %d", c.ConnID(), total)
}

// Unregister убирает соединение из хаба и из всех комнат
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	delete(h.conns, c.ConnID())
	for room, members := range h.rooms {
		delete(members, c.ConnID())
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("Hub: соединение %s снято с регистрации, всего: %d", c.ConnID(), total)
}

// Conn находит живое соединение по его ID
func (h *Hub) Conn(id uuid.UUID) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// JoinRoom вводит соединение в комнату
func (h *Hub) JoinRoom(room string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]Conn)
		h.rooms[room] = members
	}
	members[c.ConnID()] = c
}

// LeaveRoom выводит соединение из комнаты
func (h *Hub) LeaveRoom(room string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ConnID())
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// RoomConns возвращает срез соединений, состоящих в комнате
func (h *Hub) RoomConns(room string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		conns = append(conns, c)
	}
	return conns
}

// RoomsOf возвращает комнаты, в которых состоит соединение
func (h *Hub) RoomsOf(c Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var rooms []string
	for room, members := range h.rooms {
		if _, ok := members[c.ConnID()]; ok {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// EmitToRoom рассылает событие участникам комнаты.
// except исключает отправителя из рассылки; доставка fire-and-forget.
func (h *Hub) EmitToRoom(room, eventType string, payload interface{}, except Conn) {
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("EmitToRoom: ошибка маршалинга %s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	members := make([]Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		if except != nil && c.ConnID() == except.ConnID() {
			continue
		}
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.SendJSON(envelope); err != nil {
			log.Printf("EmitToRoom: не доставлено в %s: %v", c.ConnID(), err)
		}
	}
}

// Emit отправляет событие одному соединению по его ID
func (h *Hub) Emit(connID uuid.UUID, eventType string, payload interface{}) {
	c, ok := h.Conn(connID)
	if !ok {
		return
	}
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Emit: ошибка маршалинга %s: %v", eventType, err)
		return
	}
	if err := c.SendJSON(envelope); err != nil {
		log.Printf("Emit: не доставлено в %s: %v", connID, err)
	}
}
