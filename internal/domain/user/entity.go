// Package user содержит доменную модель зарегистрированного участника.
package user

import (
	"context"
	"time"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER
// ══════════════════════════════════════════════════════════════════════════════

// User - участник, привязавший AtCoder-хендл.
// Пользователи не удаляются: при выходе они деактивируются,
// история их сабмитов сохраняется.
type User struct {
	ID           shared.UserID
	Handle       shared.Handle
	Active       bool
	RegisteredAt time.Time
	UpdatedAt    time.Time

	// Rating - последний известный рейтинг AtCoder. nil - ещё не загружен.
	Rating          *int
	RatingUpdatedAt time.Time
}

// New создаёт активного пользователя.
func New(id shared.UserID, handle shared.Handle, at time.Time) (*User, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !handle.IsValid() {
		return nil, shared.ErrInvalidHandle
	}
	return &User{
		ID:           id,
		Handle:       handle,
		Active:       true,
		RegisteredAt: at,
		UpdatedAt:    at,
	}, nil
}

// Relink выполняет повторную регистрацию. Возвращает, сменился ли хендл
// и был ли пользователь реактивирован.
func (u *User) Relink(handle shared.Handle, at time.Time) (handleChanged, reactivated bool, err error) {
	if !handle.IsValid() {
		return false, false, shared.ErrInvalidHandle
	}
	handleChanged = u.Handle != handle
	reactivated = !u.Active

	u.Handle = handle
	u.Active = true
	u.UpdatedAt = at
	if handleChanged {
		// рейтинг принадлежал старому хендлу
		u.Rating = nil
		u.RatingUpdatedAt = time.Time{}
	}
	return handleChanged, reactivated, nil
}

// Deactivate исключает пользователя из начислений и рейтинга.
func (u *User) Deactivate(at time.Time) error {
	if !u.Active {
		return shared.ErrUserInactive
	}
	u.Active = false
	u.UpdatedAt = at
	return nil
}

// EffectiveRating возвращает рейтинг или значение по умолчанию.
func (u *User) EffectiveRating(defaultRating int) int {
	if u.Rating == nil {
		return defaultRating
	}
	return *u.Rating
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище пользователей и их рейтингов.
type Repository interface {
	// GetUser возвращает пользователя или ErrUserNotFound.
	GetUser(ctx context.Context, id shared.UserID) (*User, error)

	// SaveUser создаёт или обновляет пользователя (кроме рейтинга).
	SaveUser(ctx context.Context, u *User) error

	// ListActiveUsers возвращает активных пользователей, упорядоченных по ID.
	ListActiveUsers(ctx context.Context) ([]*User, error)

	// CountActiveUsers - число активных пользователей.
	CountActiveUsers(ctx context.Context) (int, error)

	// SaveRating обновляет рейтинг пользователя.
	SaveRating(ctx context.Context, id shared.UserID, rating int, at time.Time) error
}
