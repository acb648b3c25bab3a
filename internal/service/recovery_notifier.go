package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
)

// LogRecoveryNotifier is the default recovery channel. It only records that a
// token was issued; the token itself is never written to the log.
type LogRecoveryNotifier struct {
	logger *zap.Logger
}

// NewLogRecoveryNotifier constructs the notifier.
func NewLogRecoveryNotifier(logger *zap.Logger) *LogRecoveryNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecoveryNotifier{logger: logger}
}

// SendRecoveryToken logs the issuance.
func (n *LogRecoveryNotifier) SendRecoveryToken(_ context.Context, user *models.User, _ string, expiresAt time.Time) error {
	n.logger.Info("password recovery token issued",
		zap.String("user_id", user.ID),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
