package store

import (
	"fmt"

	"lucid/internal/ids"
	"lucid/internal/logging"
)

// Reservation is the result of ReserveIDs: two consecutive turn ids for a
// user/assistant pair, and a contiguous position range for their tokens.
type Reservation struct {
	UserTurn      ids.TurnID
	AssistantTurn ids.TurnID
	PositionStart ids.Position
	N             int
}

// Positions returns the n reserved positions in order.
func (r Reservation) Positions() []ids.Position {
	out := make([]ids.Position, r.N)
	for i := 0; i < r.N; i++ {
		out[i] = r.PositionStart.Add(uint64(i))
	}
	return out
}

// ErrReservationFailed is returned when the counter_state transaction
// cannot be committed; callers retry with backoff.
var ErrReservationFailed = fmt.Errorf("store: reservation_failed")

// ReserveIDs atomically allocates a user/assistant turn id pair and a
// position range of length n. The counter_state row serializes every
// reservation, including across concurrent writers, because SQLite holds
// the single writer lock for the duration of the transaction.
func (s *Store) ReserveIDs(n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{}, fmt.Errorf("store: reservation size must be > 0, got %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
	defer tx.Rollback()

	var nextPositionStr, nextTurnStr string
	if err := tx.QueryRow(
		`SELECT next_position, next_turn FROM counter_state WHERE id = 1`,
	).Scan(&nextPositionStr, &nextTurnStr); err != nil {
		return Reservation{}, fmt.Errorf("%w: reading counter_state: %v", ErrReservationFailed, err)
	}

	positionStart, err := ids.ParsePosition(nextPositionStr)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
	userTurn, err := ids.ParseTurnID(nextTurnStr)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}
	assistantTurn := userTurn.Next()

	nextPosition := positionStart.Add(uint64(n))
	nextTurn := assistantTurn.Next()

	if _, err := tx.Exec(
		`UPDATE counter_state SET next_position = ?, next_turn = ? WHERE id = 1`,
		nextPosition.String(), nextTurn.String(),
	); err != nil {
		return Reservation{}, fmt.Errorf("%w: updating counter_state: %v", ErrReservationFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrReservationFailed, err)
	}

	logging.StoreDebug("reserved turns (%s,%s) and positions [%s,%s)", userTurn, assistantTurn, positionStart, nextPosition)

	return Reservation{
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		PositionStart: positionStart,
		N:             n,
	}, nil
}
