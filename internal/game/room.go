package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

// Room is one match. All state is guarded by mu.
type Room struct {
	arena *Arena

	mu        sync.Mutex
	id        string
	class     timecontrol.Class
	tc        timecontrol.TimeControl
	p1, p2    Player
	color     rules.Color // player 1
	pos       *rules.Position
	history   []arenadto.MoveRecord
	time1     int64
	time2     int64
	turn      int // 1 or 2
	outcome   *Outcome
	offer     drawOffer
	createdAt time.Time

	clockCancel context.CancelFunc
	cleanup     *time.Timer
}

func (r *Room) ID() string { return r.id }

func (r *Room) Class() timecontrol.Class { return r.class }

// Players returns both seats as currently known.
func (r *Room) Players() (Player, Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p1, r.p2
}

func (r *Room) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome != nil
}

// Outcome returns a copy of the result, nil while the game runs.
func (r *Room) Outcome() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcome == nil {
		return nil
	}
	o := *r.outcome
	return &o
}

// Clocks returns the remaining milliseconds of player 1 and player 2.
func (r *Room) Clocks() (int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.time1, r.time2
}

// seatLocked returns 1 or 2 for a participant, 0 otherwise.
func (r *Room) seatLocked(userID string) int {
	switch strings.TrimSpace(userID) {
	case "":
		return 0
	case r.p1.UserID:
		return 1
	case r.p2.UserID:
		return 2
	}
	return 0
}

func (r *Room) colorOf(seat int) rules.Color {
	if seat == 1 {
		return r.color
	}
	return r.color.Opposite()
}

func (r *Room) opponentLocked(seat int) *Player {
	if seat == 1 {
		return &r.p2
	}
	return &r.p1
}

func (r *Room) send(p Player, event string, payload any) {
	if r.arena.notify == nil || p.ConnID == "" {
		return
	}
	r.arena.notify.Send(p.ConnID, event, payload)
}

// Move applies a move by userID. The mover must hold the side to move.
func (r *Room) Move(userID string, in rules.MoveInput) error {
	r.mu.Lock()
	fin, err := r.moveLocked(userID, in)
	r.mu.Unlock()
	r.finish(fin)
	return err
}

func (r *Room) moveLocked(userID string, in rules.MoveInput) (*Ended, error) {
	seat := r.seatLocked(userID)
	if seat == 0 {
		return nil, ErrNotParticipant
	}
	if r.outcome != nil {
		return nil, ErrGameOver
	}
	if r.turn != seat || r.pos.Turn() != r.colorOf(seat) {
		return nil, ErrInvalidMove
	}
	applied, err := r.pos.Apply(in)
	if err != nil {
		return nil, ErrInvalidMove
	}

	r.history = append(r.history, arenadto.MoveRecord{
		From:      applied.From,
		To:        applied.To,
		Promotion: applied.Promotion,
		SAN:       applied.SAN,
	})
	inc := r.tc.IncrementMillis()
	if seat == 1 {
		r.time1 += inc
		r.turn = 2
	} else {
		r.time2 += inc
		r.turn = 1
	}
	r.send(*r.opponentLocked(seat), arenadto.EvMove, arenadto.MoveRelay{MoveData: arenadto.MoveData{
		SourceSquare: applied.From,
		TargetSquare: applied.To,
		Piece:        in.Piece,
	}})
	r.offer = noOffer
	r.startClockLocked()

	t, over := r.pos.Terminal()
	if !over {
		return nil, nil
	}
	score, key := rating.Draw, "result.draw"
	switch t.Kind {
	case rules.Checkmate:
		key = "result.checkmate"
		if t.Winner == r.color {
			score = rating.Win
		} else {
			score = rating.Loss
		}
	case rules.Stalemate:
		key = "result.stalemate"
	case rules.ThreefoldRepetition:
		key = "result.threefold"
	case rules.InsufficientMaterial:
		key = "result.insufficient"
	}
	return r.terminateLocked(score, r.arena.msgs.Text(key, nil)), nil
}

// OfferDraw records a draw offer, or agrees to the opponent's pending one.
func (r *Room) OfferDraw(userID string) error {
	r.mu.Lock()
	fin, err := r.offerLocked(userID)
	r.mu.Unlock()
	r.finish(fin)
	return err
}

func (r *Room) offerLocked(userID string) (*Ended, error) {
	seat := r.seatLocked(userID)
	if seat == 0 {
		return nil, ErrNotParticipant
	}
	if r.outcome != nil {
		return nil, ErrGameOver
	}
	mine := offerBy1
	if seat == 2 {
		mine = offerBy2
	}
	switch r.offer {
	case noOffer:
		r.offer = mine
		r.send(*r.opponentLocked(seat), arenadto.EvOfferDraw, arenadto.Empty{})
		return nil, nil
	case mine:
		return nil, nil
	default:
		return r.terminateLocked(rating.Draw, r.arena.msgs.Text("result.agreement", nil)), nil
	}
}

// Resign ends the game as a win for userID's opponent.
func (r *Room) Resign(userID string) error {
	r.mu.Lock()
	fin, err := r.resignLocked(userID)
	r.mu.Unlock()
	r.finish(fin)
	return err
}

func (r *Room) resignLocked(userID string) (*Ended, error) {
	seat := r.seatLocked(userID)
	if seat == 0 {
		return nil, ErrNotParticipant
	}
	if r.outcome != nil {
		return nil, ErrGameOver
	}
	winner := r.opponentLocked(seat)
	score := rating.Loss
	if seat == 2 {
		score = rating.Win
	}
	msg := r.arena.msgs.Text("result.resignation", map[string]any{"Winner": winner.Username})
	return r.terminateLocked(score, msg), nil
}

// Attach points userID's seat at connID and returns the game as that player sees it.
func (r *Room) Attach(userID, connID string) (arenadto.GameData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat := r.seatLocked(userID)
	if seat == 0 {
		return arenadto.GameData{}, ErrNotParticipant
	}
	me, opp := &r.p1, &r.p2
	myTime, oppTime := r.time1, r.time2
	if seat == 2 {
		me, opp = &r.p2, &r.p1
		myTime, oppTime = r.time2, r.time1
	}
	if connID != "" {
		me.ConnID = connID
	}
	data := arenadto.GameData{
		Color:           int(r.colorOf(seat)),
		OpponentInfo:    playerInfo(*opp),
		UserInfo:        playerInfo(*me),
		TimeControl:     arenadto.TimeControl{Init: r.tc.Init, Increment: r.tc.Increment},
		MoveHistory:     append([]arenadto.MoveRecord{}, r.history...),
		DrawOfferExists: r.offer != noOffer,
		UserTime:        myTime,
		OpponentTime:    oppTime,
	}
	if r.outcome != nil {
		s := float64(r.outcome.Score)
		if seat == 2 {
			s = float64(r.outcome.Score.Invert())
		}
		data.GameState = &s
	}
	return data, nil
}

// Relay sends event to both players when userID sits in the room.
func (r *Room) Relay(userID, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seatLocked(userID) == 0 {
		return ErrNotParticipant
	}
	r.send(r.p1, event, payload)
	r.send(r.p2, event, payload)
	return nil
}

func playerInfo(p Player) arenadto.PlayerInfo {
	return arenadto.PlayerInfo{UserID: p.UserID, Username: p.Username, Rating: p.Rating}
}

func (r *Room) startClockLocked() {
	if r.clockCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.clockCancel = cancel
	step := r.arena.opts.TickInterval
	go func() {
		t := time.NewTicker(step)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if r.tick(step) {
					return
				}
			}
		}
	}()
}

// tick deducts step from the side to move. It reports true once the game is over.
func (r *Room) tick(step time.Duration) bool {
	r.mu.Lock()
	if r.outcome != nil {
		r.mu.Unlock()
		return true
	}
	ms := step.Milliseconds()
	var fin *Ended
	if r.turn == 1 {
		r.time1 -= ms
		if r.time1 <= 0 {
			r.time1 = 0
			fin = r.terminateLocked(rating.Loss, r.arena.msgs.Text("result.timeout", nil))
		}
	} else {
		r.time2 -= ms
		if r.time2 <= 0 {
			r.time2 = 0
			fin = r.terminateLocked(rating.Win, r.arena.msgs.Text("result.timeout", nil))
		}
	}
	if fin == nil {
		r.send(r.p1, arenadto.EvTimerUpdate, arenadto.TimerUpdate{UserTime: r.time1, OpponentTime: r.time2})
		r.send(r.p2, arenadto.EvTimerUpdate, arenadto.TimerUpdate{UserTime: r.time2, OpponentTime: r.time1})
	}
	r.mu.Unlock()
	r.finish(fin)
	return fin != nil
}

// terminateLocked fixes the outcome and notifies both players. Later calls are no-ops.
func (r *Room) terminateLocked(score rating.Score, message string) *Ended {
	if r.outcome != nil {
		return nil
	}
	if r.clockCancel != nil {
		r.clockCancel()
	}
	d1, d2 := rating.ComputeDeltas(score, r.p1.Rating, r.p2.Rating)
	r.outcome = &Outcome{Score: score, Message: message, Delta1: d1, Delta2: d2}
	r.offer = noOffer

	r.send(r.p1, arenadto.EvResult, arenadto.Result{
		Result:         float64(score),
		Message:        message,
		RatingChange:   d1,
		OpponentRating: r.p2.Rating + d2,
	})
	r.send(r.p2, arenadto.EvResult, arenadto.Result{
		Result:         float64(score.Invert()),
		Message:        message,
		RatingChange:   d2,
		OpponentRating: r.p1.Rating + d1,
	})

	if !r.arena.isClosed() {
		r.cleanup = time.AfterFunc(r.arena.opts.CleanupGrace, func() { r.arena.evict(r.id) })
	}
	obslog.L().Info("room_result",
		zap.String("room", r.id),
		zap.Float64("score", float64(score)),
		zap.String("message", message),
		zap.Int("delta1", d1),
		zap.Int("delta2", d2),
	)
	return &Ended{
		RoomID:  r.id,
		Player1: r.p1,
		Player2: r.p2,
		Outcome: *r.outcome,
		Plies:   len(r.history),
		EndedAt: time.Now(),
	}
}

func (r *Room) finish(fin *Ended) {
	if fin == nil || r.arena.hooks.OnTerminate == nil {
		return
	}
	r.arena.hooks.OnTerminate(*fin)
}

func (r *Room) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clockCancel != nil {
		r.clockCancel()
	}
	if r.cleanup != nil {
		r.cleanup.Stop()
	}
}
