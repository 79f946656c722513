package mta

import (
	"context"

	"go.uber.org/zap"
)

// Logger defines the logging interface used throughout the session
// engine. Implementations may wrap zap, slog, or any other framework.
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...LogAttr)
	Info(ctx context.Context, msg string, attrs ...LogAttr)
	Warn(ctx context.Context, msg string, attrs ...LogAttr)
	Error(ctx context.Context, msg string, attrs ...LogAttr)

	// WithAttrs returns a new Logger with the given attributes added
	// to every subsequent call.
	WithAttrs(attrs ...LogAttr) Logger

	// WithSession returns a new Logger annotated with a session id.
	WithSession(sessionID SessionID) Logger
}

// LogAttr is a key-value pair for structured logging.
type LogAttr struct {
	Key   string
	Value any
}

// Attr creates a log attribute.
func Attr(key string, value any) LogAttr {
	return LogAttr{Key: key, Value: value}
}

// Common attribute keys.
const (
	AttrSessionID   = "session_id"
	AttrTaskID      = "task_id"
	AttrEnvelopeID  = "envelope_id"
	AttrRemoteAddr  = "remote_addr"
	AttrCommand     = "command"
	AttrState       = "state"
	AttrError       = "error"
	AttrReplyCode   = "reply_code"
	AttrMailFrom    = "mail_from"
	AttrRcptTo      = "rcpt_to"
	AttrMessageSize = "message_size"
	AttrRecipients  = "recipients"
	AttrTLSVersion  = "tls_version"
	AttrCipherSuite = "cipher_suite"
	AttrAttempt     = "attempt"
	AttrVerdict     = "verdict"
)

// NullLogger is a Logger that discards all messages.
type NullLogger struct{}

func (NullLogger) Debug(_ context.Context, _ string, _ ...LogAttr) {}
func (NullLogger) Info(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Warn(_ context.Context, _ string, _ ...LogAttr)  {}
func (NullLogger) Error(_ context.Context, _ string, _ ...LogAttr) {}
func (n NullLogger) WithAttrs(_ ...LogAttr) Logger                 { return n }
func (n NullLogger) WithSession(_ SessionID) Logger                { return n }

// ZapLogger adapts *zap.Logger to the Logger interface.
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z. Pass zap.NewProduction() or zap.NewDevelopment()
// depending on deployment, as is conventional for zap consumers.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

func toZapFields(attrs []LogAttr) []zap.Field {
	fields := make([]zap.Field, len(attrs))
	for i, a := range attrs {
		fields[i] = zap.Any(a.Key, a.Value)
	}
	return fields
}

func (l *ZapLogger) Debug(_ context.Context, msg string, attrs ...LogAttr) {
	l.z.Debug(msg, toZapFields(attrs)...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, attrs ...LogAttr) {
	l.z.Info(msg, toZapFields(attrs)...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, attrs ...LogAttr) {
	l.z.Warn(msg, toZapFields(attrs)...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, attrs ...LogAttr) {
	l.z.Error(msg, toZapFields(attrs)...)
}

func (l *ZapLogger) WithAttrs(attrs ...LogAttr) Logger {
	return &ZapLogger{z: l.z.With(toZapFields(attrs)...)}
}

func (l *ZapLogger) WithSession(sessionID SessionID) Logger {
	return l.WithAttrs(Attr(AttrSessionID, sessionID))
}

var _ Logger = (*ZapLogger)(nil)
var _ Logger = NullLogger{}

// TranscriptLogger logs the raw SMTP conversation, useful for
// debugging delivery failures against a specific peer.
type TranscriptLogger interface {
	LogSent(data []byte)
	LogReceived(data []byte)
}

// WriterTranscriptLogger writes transcripts to an io.Writer-like sink.
type WriterTranscriptLogger struct {
	Writer interface{ Write([]byte) (int, error) }
}

func (l *WriterTranscriptLogger) LogSent(data []byte) {
	l.Writer.Write([]byte("C: "))
	l.Writer.Write(data)
}

func (l *WriterTranscriptLogger) LogReceived(data []byte) {
	l.Writer.Write([]byte("S: "))
	l.Writer.Write(data)
}
