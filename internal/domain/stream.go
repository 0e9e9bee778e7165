package domain

import "encoding/json"

// EventType discriminates StreamEvent.
type EventType string

const (
	EventChunk  EventType = "chunk"
	EventFinish EventType = "finish"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// StreamEvent is the canonical streaming unit sent to the caller's
// transport. Consumed exactly once, in emission order.
type StreamEvent struct {
	Type EventType

	// EventChunk
	Text  string
	Index int

	// EventFinish
	Reason string

	// EventDone
	TotalLength int

	// EventError
	Err *ErrorRecord
}

func ChunkEvent(text string, index int) StreamEvent {
	return StreamEvent{Type: EventChunk, Text: text, Index: index}
}

func FinishEvent(reason string) StreamEvent {
	return StreamEvent{Type: EventFinish, Reason: reason}
}

func DoneEvent(totalLength int) StreamEvent {
	return StreamEvent{Type: EventDone, TotalLength: totalLength}
}

func ErrorEvent(err *ErrorRecord) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// MarshalJSON renders the wire shape the SSE transport sends: the tag is
// implied by which fields are present, matching what thin clients expect.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventChunk:
		return json.Marshal(struct {
			Text  string `json:"text"`
			Index int    `json:"index"`
		}{e.Text, e.Index})
	case EventFinish:
		return json.Marshal(struct {
			FinishReason string `json:"finish_reason"`
		}{e.Reason})
	case EventDone:
		return json.Marshal(struct {
			Done        bool `json:"done"`
			TotalLength int  `json:"total_length"`
		}{true, e.TotalLength})
	case EventError:
		return json.Marshal(struct {
			Error *ErrorRecord `json:"error"`
		}{e.Err})
	}
	return []byte("{}"), nil
}
