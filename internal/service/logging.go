package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"whatslens/internal/privacy"
)

// Canonical structured-log field names. Every service logs the same concept
// under the same key so log filters work across components.
//
// Identity fields:
//
//	logger.WithFields(logrus.Fields{
//	    LogFieldTeam:    teamID,
//	    LogFieldSession: sessionID,
//	})
//
// Operation fields:
//
//	logger.WithFields(logrus.Fields{
//	    LogFieldComponent: "event_processor",
//	    LogFieldOperation: "flush_batch",
//	    LogFieldDuration:  elapsed.Milliseconds(),
//	})
const (
	// Identity fields
	LogFieldTeam          = "team_id"
	LogFieldSession       = "session_id"
	LogFieldUserID        = "user_id"
	LogFieldMessageID     = "message_id"
	LogFieldChatID        = "chat_id"
	LogFieldContact       = "contact"
	LogFieldConversation  = "conversation_id"
	LogFieldCorrelationID = "correlation_id"

	// Component identification
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldJob       = "job"

	// Event and message metadata
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction" // "inbound" or "outbound"
	LogFieldChannel     = "channel"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Correlation scoring
	LogFieldMethod = "method"
	LogFieldScore  = "score"

	// Error and retry context
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
	LogFieldReason    = "reason"

	// HTTP request context
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldHTTPMethod = "http_method"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldService    = "service"
)

// ContextKey is a package-local type to prevent context key collisions.
type ContextKey string

// VerboseContextKey toggles unmasked payload logging for a request.
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context.
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogMessageStored logs a stored message with privacy controls. Phone
// numbers and message ids are masked unless the context enables verbose
// logging.
func LogMessageStored(ctx context.Context, logger *logrus.Logger, msg messageLogInfo) {
	fields := logrus.Fields{
		LogFieldMessageType: msg.Type,
		LogFieldDirection:   msg.Direction,
		LogFieldSession:     msg.SessionID,
	}
	if IsVerboseLogging(ctx) {
		fields[LogFieldChatID] = msg.ChatID
		fields[LogFieldMessageID] = msg.WAMessageID
	} else {
		fields[LogFieldChatID] = privacy.MaskChatID(msg.ChatID)
		fields[LogFieldMessageID] = privacy.MaskUserID(msg.WAMessageID)
	}
	logger.WithFields(fields).Info("Message stored")
}

type messageLogInfo struct {
	Type        string
	Direction   string
	SessionID   string
	ChatID      string
	WAMessageID string
}
