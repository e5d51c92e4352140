package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferedLogger(buf *bytes.Buffer, level zapcore.Level) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buf),
		level,
	)
	return zap.New(core)
}

func TestProperty_CategoryLogsAreStructured(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("pass logs carry category and article fields as JSON", prop.ForAll(
		func(category string, articleCode string) bool {
			var buf bytes.Buffer
			logger := newBufferedLogger(&buf, zapcore.DebugLevel)

			logger.Info("Inserted product",
				zap.String("category", category),
				zap.String("article_code", articleCode),
			)
			_ = logger.Sync()

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Logf("invalid JSON: %v (%s)", err, buf.String())
				return false
			}

			if _, ok := entry["timestamp"]; !ok {
				return false
			}
			return entry["category"] == category && entry["article_code"] == articleCode
		},
		gen.AnyString(),
		gen.RegexMatch(`[0-9]{10}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf, zapcore.WarnLevel)

	logger.Info("dropped")
	logger.Debug("dropped too")
	if buf.Len() != 0 {
		t.Fatalf("info/debug should be filtered at warn level, got %s", buf.String())
	}

	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn entry should be written")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("production", "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewBuildsBothModes(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		logger, err := New(env, "debug")
		if err != nil {
			t.Fatalf("New(%q) failed: %v", env, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("debug level should be enabled for %s", env)
		}
	}
}
