package addons

import (
	"context"
	"log/slog"
)

// NoopNotifier drops every notice.
type NoopNotifier struct{}

// NewNoopNotifier creates a notifier that does nothing
func NewNoopNotifier() Notifier {
	return &NoopNotifier{}
}

func (n *NoopNotifier) SendModeratorNotice(ctx context.Context, subject, body string) error {
	return nil
}

func (n *NoopNotifier) SendUploaderNotice(ctx context.Context, uploaderID int64, addonID, body string) error {
	return nil
}

// NoopAuditLog drops every event.
type NoopAuditLog struct{}

// NewNoopAuditLog creates an audit log that does nothing
func NewNoopAuditLog() AuditLog {
	return &NoopAuditLog{}
}

func (n *NoopAuditLog) Record(ctx context.Context, message string) error {
	return nil
}

// NoopCatalog skips catalog regeneration.
type NoopCatalog struct{}

// NewNoopCatalog creates a catalog that does nothing
func NewNoopCatalog() Catalog {
	return &NoopCatalog{}
}

func (n *NoopCatalog) RegenerateAssetCatalog(ctx context.Context) error { return nil }

func (n *NoopCatalog) RegenerateNewsCatalog(ctx context.Context) error { return nil }

// LoggingNotifier writes notices to a structured logger instead of mailing them.
// Useful for development and for deployments without a mail relay.
type LoggingNotifier struct {
	logger *slog.Logger
}

// NewLoggingNotifier creates a notifier writing to logger, or slog.Default when nil
func NewLoggingNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingNotifier{logger: logger}
}

func (l *LoggingNotifier) SendModeratorNotice(ctx context.Context, subject, body string) error {
	l.logger.InfoContext(ctx, "Moderator notice", "subject", subject, "body", body)
	return nil
}

func (l *LoggingNotifier) SendUploaderNotice(ctx context.Context, uploaderID int64, addonID, body string) error {
	l.logger.InfoContext(ctx, "Uploader notice", "uploader_id", uploaderID, "addon_id", addonID, "body", body)
	return nil
}

// LoggingAuditLog records events as structured log lines.
type LoggingAuditLog struct {
	logger *slog.Logger
}

// NewLoggingAuditLog creates an audit log writing to logger, or slog.Default when nil
func NewLoggingAuditLog(logger *slog.Logger) AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingAuditLog{logger: logger}
}

func (l *LoggingAuditLog) Record(ctx context.Context, message string) error {
	l.logger.InfoContext(ctx, "Audit event", "message", message)
	return nil
}
