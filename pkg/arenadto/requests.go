package arenadto

// Authed is embedded by every request that carries a token.
type Authed struct {
	Token string `json:"token"`
}

type QueueRequest struct {
	Authed
	Index int `json:"index"`
}

type ChallengeRequest struct {
	Authed
	ChallengeID string `json:"challengeId"`
}

type RoomRequest struct {
	Authed
	RoomID string `json:"roomId"`
}

type MoveData struct {
	SourceSquare string `json:"sourceSquare"`
	TargetSquare string `json:"targetSquare"`
	Piece        string `json:"piece"`
}

type MoveRequest struct {
	Authed
	RoomID   string   `json:"roomId"`
	MoveData MoveData `json:"moveData"`
}

type ChatRequest struct {
	Authed
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message"`
}
