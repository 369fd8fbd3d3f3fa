package service

import (
	"context"
	"fmt"

	"reglament/internal/ledger"
	logx "reglament/pkg/logx"
)

type Users struct{ base }

// Register creates the user for telegramID, or returns the existing one.
func (u *Users) Register(ctx context.Context, telegramID int64) (*ledger.User, bool, error) {
	if telegramID == 0 {
		return nil, false, fmt.Errorf("%w: telegram id required", ErrValidation)
	}
	user, created, err := u.st.Users().Ensure(ctx, telegramID)
	if err != nil {
		return nil, false, fmt.Errorf("register user %d: %w", telegramID, err)
	}
	if created {
		u.log.Info("user registered", logx.Int64("telegram_id", telegramID))
	}
	return user, created, nil
}
