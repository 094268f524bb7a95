package composables

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/perch-social/perch/pkg/constants"
)

var ErrNoAccountID = errors.New("no account id found in context")

// WithAccountID attaches the acting account to the context. Installed by
// the authentication middleware upstream of this module.
func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, constants.AccountIDKey, id)
}

func UseAccountID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(constants.AccountIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoAccountID
	}
	return id, nil
}
