package queue

import (
	"fmt"

	"github.com/perch-social/perch/pkg/serrors"
)

var ErrInvalidConfig = serrors.NewError("QUEUE_INVALID_CONFIG", "invalid queue configuration", "")

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}
