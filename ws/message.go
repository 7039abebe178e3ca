package ws

import "encoding/json"

// Envelope — кадр протокола поверх WebSocket: событие с полезной нагрузкой.
// ID заполняется запросами, ожидающими подтверждения (emitWithAck):
// ответ приходит кадром type="ack" с тем же ID.
type Envelope struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckType — тип кадра-подтверждения
const AckType = "ack"

// NewEnvelope создает кадр события с указанной нагрузкой
func NewEnvelope(eventType string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: eventType, Payload: raw}, nil
}

// NewAck создает кадр-подтверждение для запроса с данным ID
func NewAck(id int64, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: AckType, ID: id, Payload: raw}, nil
}
