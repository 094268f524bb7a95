package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/perch-social/perch/pkg/constants"
	"github.com/perch-social/perch/pkg/logging"
)

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request-scoped logger, falling back to a no-op
// entry so callers never nil-check.
func UseLogger(ctx context.Context) *logrus.Entry {
	logger, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry)
	if !ok {
		return logging.Nop()
	}
	return logger
}
