package arenadto

type MatchFound struct {
	RoomID string `json:"roomId"`
}

type ChallengeCode struct {
	ChallengeID string `json:"challengeId"`
	Username    string `json:"username,omitempty"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type Message struct {
	Message string `json:"message"`
}

type Count struct {
	N int64 `json:"n"`
}

type PlayerInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Rating   int    `json:"rating"`
}

type TimeControl struct {
	Init      int `json:"init"`
	Increment int `json:"increment"`
}

type MoveRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san,omitempty"`
}

// GameData answers get-game-data. Color is the recipient's colour (1 white, 0 black);
// GameState is nil while the game is running, else the recipient's score.
type GameData struct {
	Color           int          `json:"color"`
	OpponentInfo    PlayerInfo   `json:"opponentInfo"`
	UserInfo        PlayerInfo   `json:"userInfo"`
	TimeControl     TimeControl  `json:"timeControl"`
	MoveHistory     []MoveRecord `json:"moveHistory"`
	DrawOfferExists bool         `json:"drawOfferExists"`
	GameState       *float64     `json:"gameState"`
	UserTime        int64        `json:"userTime"`
	OpponentTime    int64        `json:"opponentTime"`
}

type MoveRelay struct {
	MoveData MoveData `json:"moveData"`
}

type Result struct {
	Result         float64 `json:"result"`
	Message        string  `json:"message"`
	RatingChange   int     `json:"ratingChange"`
	OpponentRating int     `json:"opponentRating"`
}

type TimerUpdate struct {
	UserTime     int64 `json:"userTime"`
	OpponentTime int64 `json:"opponentTime"`
}

type Chat struct {
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type Empty struct{}

// Health is the body of GET /healthz.
type Health struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
}

// Stats is the body of GET /stats.
type Stats struct {
	Users       int64 `json:"users"`
	Games       int64 `json:"games"`
	Rooms       int   `json:"rooms"`
	Connections int   `json:"connections"`
}
