package arenadto

// DomainError is a failure reported back to one client. Event selects the server event
// it is sent as; RoomID is set for already-playing conflicts.
type DomainError struct {
	Event   string
	Code    string
	Message string
	RoomID  string
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "arena error"
}

// Payload is what the client receives for e.
func (e DomainError) Payload() any {
	switch e.Event {
	case EvUserAlreadyPlaying:
		return RoomRef{RoomID: e.RoomID}
	case EvInvalidMove:
		return Empty{}
	default:
		return Message{Message: e.Error()}
	}
}
