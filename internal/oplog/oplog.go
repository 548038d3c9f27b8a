// Package oplog adapts the domain operation callbacks onto zap.
package oplog

import (
	"context"

	"github.com/reelcrew/credits/pkg/credits"
	"go.uber.org/zap"
)

// Logger forwards every state-changing credits operation to a zap logger.
type Logger struct {
	zap *zap.Logger
}

// New wraps a zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{zap: logger}
}

// LogOperation implements credits.OperationLogger.
func (logger *Logger) LogOperation(_ context.Context, entry credits.OperationLog) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields, zap.String("status", entry.Status))
	if entry.UserID.String() != "" {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if entry.OrderID.String() != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID.String()))
	}
	if entry.ApplicationID.String() != "" {
		fields = append(fields, zap.String("application_id", entry.ApplicationID.String()))
	}
	if entry.ProjectID.String() != "" {
		fields = append(fields, zap.String("project_id", entry.ProjectID.String()))
	}
	if entry.Delta != 0 {
		fields = append(fields, zap.Int64("delta_credits", entry.Delta))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.zap.Warn(entry.Operation, fields...)
		return
	}
	logger.zap.Info(entry.Operation, fields...)
}
