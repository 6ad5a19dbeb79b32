package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithoutContext(t *testing.T) {
	for _, tc := range []struct {
		name          string
		expectedLevel zapcore.Level
	}{
		{
			name:          "Info",
			expectedLevel: zapcore.InfoLevel,
		},
		{
			name:          "Debug",
			expectedLevel: zapcore.DebugLevel,
		},
		{
			name:          "Warn",
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "Error",
			expectedLevel: zapcore.ErrorLevel,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			observerLogger, logs := observer.New(zap.DebugLevel)
			dut := ZapLogger{zap.New(observerLogger)}
			const testMessage = "ABC"
			switch tc.name {
			case "Info":
				dut.Info(testMessage)
			case "Debug":
				dut.Debug(testMessage)
			case "Warn":
				dut.Warn(testMessage)
			case "Error":
				dut.Error(testMessage)
			}
			require.Equal(t, 1, logs.Len())

			actualMessage := logs.All()[0]
			require.Equal(t, testMessage, actualMessage.Message)
			require.Empty(t, actualMessage.ContextMap())
			require.Equal(t, tc.expectedLevel, actualMessage.Level)
		})
	}
}

func TestWithContextFields(t *testing.T) {
	for _, tc := range []struct {
		name          string
		log           func(l *ZapLogger, ctx context.Context, msg string)
		expectedLevel zapcore.Level
	}{
		{
			name:          "InfoWithContext",
			log:           func(l *ZapLogger, ctx context.Context, msg string) { l.InfoWithContext(ctx, msg) },
			expectedLevel: zapcore.InfoLevel,
		},
		{
			name:          "DebugWithContext",
			log:           func(l *ZapLogger, ctx context.Context, msg string) { l.DebugWithContext(ctx, msg) },
			expectedLevel: zapcore.DebugLevel,
		},
		{
			name:          "WarnWithContext",
			log:           func(l *ZapLogger, ctx context.Context, msg string) { l.WarnWithContext(ctx, msg) },
			expectedLevel: zapcore.WarnLevel,
		},
		{
			name:          "ErrorWithContext",
			log:           func(l *ZapLogger, ctx context.Context, msg string) { l.ErrorWithContext(ctx, msg) },
			expectedLevel: zapcore.ErrorLevel,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			observerLogger, logs := observer.New(zap.DebugLevel)
			dut := &ZapLogger{zap.New(observerLogger)}

			ctx := ContextWithFields(context.Background(), zap.String("request_id", "01ABC"))
			tc.log(dut, ctx, "ABC")

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			require.Equal(t, "ABC", entry.Message)
			require.Equal(t, map[string]interface{}{"request_id": "01ABC"}, entry.ContextMap())
			require.Equal(t, tc.expectedLevel, entry.Level)
		})
	}
}

func TestContextWithFieldsAccumulates(t *testing.T) {
	ctx := ContextWithFields(context.Background(), zap.String("a", "1"))
	ctx = ContextWithFields(ctx, zap.String("b", "2"))

	fields := FieldsFromContext(ctx)
	require.Len(t, fields, 2)
	require.Equal(t, "a", fields[0].Key)
	require.Equal(t, "b", fields[1].Key)
	require.Empty(t, FieldsFromContext(context.Background()))
}

func TestWithFields(t *testing.T) {
	observerLogger, logs := observer.New(zap.DebugLevel)
	logger := &ZapLogger{zap.New(observerLogger)}

	const testMessage = "ABC"

	newLogger := logger.With(
		zap.String("TestOption", "Message"),
	)

	newLogger.Info(testMessage)

	// Check that child message carries the context fields
	expectedZapFields := map[string]interface{}{
		"TestOption": "Message",
	}
	childMessage := logs.All()[0]
	require.Equal(t, expectedZapFields, childMessage.ContextMap())

	// Check that parent message does not carry the context fields
	logger.Info(testMessage)
	parentMessage := logs.All()[1]
	require.Empty(t, parentMessage.ContextMap())
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("json", "verbose", "Unix")
	require.ErrorContains(t, err, "unknown log level")

	_, err = NewLogger("xml", "info", "Unix")
	require.ErrorContains(t, err, "unknown log format")

	_, err = NewLogger("json", "info", "RFC822")
	require.ErrorContains(t, err, "unknown timestamp format")

	l, err := NewLogger("text", "none", "Unix")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = NewLogger("json", "debug", "ISO8601")
	require.NoError(t, err)
	require.NotNil(t, l)
}
