package realtime

const (
	TypeNewRequest    = "new-request"
	TypeDeleteRequest = "delete-request"
)

// Event is the server-to-client envelope.
//
// new-request carries the full record in Data; delete-request carries only
// the identifier in ID.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	ID   any    `json:"id,omitempty"`
}

func NewRequestEvent(record any) Event {
	return Event{Type: TypeNewRequest, Data: record}
}

func DeleteRequestEvent(id int64) Event {
	return Event{Type: TypeDeleteRequest, ID: id}
}
