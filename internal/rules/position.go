package rules

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var ErrIllegalMove = errors.New("illegal move")

// Color is a side of the board.
type Color int

const (
	Black Color = 0
	White Color = 1
)

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Opposite returns the other side.
func (c Color) Opposite() Color { return 1 - c }

// RandomColor draws a side with crypto/rand.
func RandomColor() Color {
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil && n.Int64() == 0 {
		return Black
	}
	return White
}

// MoveInput is a client move: squares in algebraic form plus the dragged piece code
// ("wP", "bQ", ...). The piece letter is used as the promotion choice when needed.
type MoveInput struct {
	From  string
	To    string
	Piece string
}

// Applied describes a move accepted by the position.
type Applied struct {
	From      string
	To        string
	Promotion string
	UCI       string
	SAN       string
}

// TerminalKind names how a game ended on the board.
type TerminalKind string

const (
	Checkmate            TerminalKind = "checkmate"
	Stalemate            TerminalKind = "stalemate"
	ThreefoldRepetition  TerminalKind = "threefold"
	InsufficientMaterial TerminalKind = "insufficient"
	OtherDraw            TerminalKind = "draw"
)

// Terminal is a finished board state. Winner is only meaningful for Checkmate.
type Terminal struct {
	Kind   TerminalKind
	Winner Color
}

// Position wraps a rules-engine game and its move list.
type Position struct {
	game *nchess.Game
}

func NewPosition() *Position {
	return &Position{game: nchess.NewGame()}
}

// Turn is the side to move.
func (p *Position) Turn() Color {
	if p.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// FEN of the current position.
func (p *Position) FEN() string { return p.game.FEN() }

// Ply is the number of moves played.
func (p *Position) Ply() int { return len(p.game.Moves()) }

// Apply validates and plays mv. The position is unchanged on error.
func (p *Position) Apply(mv MoveInput) (Applied, error) {
	from := strings.ToLower(strings.TrimSpace(mv.From))
	to := strings.ToLower(strings.TrimSpace(mv.To))
	if !validSquare(from) || !validSquare(to) {
		return Applied{}, fmt.Errorf("%w: bad squares %q-%q", ErrIllegalMove, mv.From, mv.To)
	}

	before := p.game.Position()
	candidates := []string{from + to}
	if isPromotionRank(to) {
		// try the requested piece first, queen otherwise
		promo := promotionLetter(mv.Piece)
		candidates = []string{from + to + promo}
		if promo != "q" {
			candidates = append(candidates, from+to+"q")
		}
		candidates = append(candidates, from+to)
	}

	for _, uci := range candidates {
		if err := p.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			continue
		}
		last := lastMove(p.game)
		if last == nil {
			return Applied{}, fmt.Errorf("%w: move not recorded", ErrIllegalMove)
		}
		out := Applied{From: from, To: to, UCI: uci, SAN: nchess.AlgebraicNotation{}.Encode(before, last)}
		if len(uci) == 5 {
			out.Promotion = uci[4:]
		}
		return out, nil
	}
	return Applied{}, fmt.Errorf("%w: %s%s", ErrIllegalMove, from, to)
}

// Terminal reports whether the game is over on the board. Threefold repetition and the
// fifty-move rule end the game as soon as they become claimable.
func (p *Position) Terminal() (Terminal, bool) {
	if p.game.Outcome() == nchess.NoOutcome {
		for _, m := range p.game.EligibleDraws() {
			if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
				if err := p.game.Draw(m); err == nil {
					break
				}
			}
		}
	}

	switch p.game.Outcome() {
	case nchess.NoOutcome:
		return Terminal{}, false
	case nchess.WhiteWon:
		return Terminal{Kind: Checkmate, Winner: White}, true
	case nchess.BlackWon:
		return Terminal{Kind: Checkmate, Winner: Black}, true
	}

	switch p.game.Method() {
	case nchess.Stalemate:
		return Terminal{Kind: Stalemate}, true
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return Terminal{Kind: ThreefoldRepetition}, true
	case nchess.InsufficientMaterial:
		return Terminal{Kind: InsufficientMaterial}, true
	default:
		return Terminal{Kind: OtherDraw}, true
	}
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func isPromotionRank(to string) bool { return to[1] == '1' || to[1] == '8' }

func promotionLetter(piece string) string {
	piece = strings.TrimSpace(piece)
	if len(piece) < 2 {
		return "q"
	}
	switch l := strings.ToLower(piece[1:2]); l {
	case "q", "r", "b", "n":
		return l
	default:
		return "q"
	}
}
