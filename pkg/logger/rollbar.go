package logger

import (
	"errors"
	"os"

	"github.com/rollbar/rollbar-go"
	"go.uber.org/zap/zapcore"
)

// rollbarCore forwards error level entries to Rollbar. It never writes locally;
// it is meant to be teed with the regular core.
type rollbarCore struct {
	client *rollbar.Client
	fields []zapcore.Field
}

// NewRollbarCore creates a zapcore.Core reporting to Rollbar.
func NewRollbarCore(token, env, version string) zapcore.Core {
	host, _ := os.Hostname()
	return &rollbarCore{client: rollbar.New(token, env, version, host, "")}
}

func (r *rollbarCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.ErrorLevel
}

func (r *rollbarCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(r.fields)+len(fields))
	merged = append(merged, r.fields...)
	merged = append(merged, fields...)
	return &rollbarCore{client: r.client, fields: merged}
}

func (r *rollbarCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Enabled(entry.Level) {
		return checked.AddCore(entry, r)
	}
	return checked
}

func (r *rollbarCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	var cause error
	for _, f := range append(append([]zapcore.Field{}, r.fields...), fields...) {
		if f.Type == zapcore.ErrorType {
			if err, ok := f.Interface.(error); ok && cause == nil {
				cause = err
			}
		}
		f.AddTo(enc)
	}

	level := rollbar.ERR
	if entry.Level > zapcore.ErrorLevel {
		level = rollbar.CRIT
	}

	if cause != nil {
		r.client.ErrorWithExtras(level, errors.New(entry.Message+": "+cause.Error()), enc.Fields)
		return nil
	}
	r.client.MessageWithExtras(level, entry.Message, enc.Fields)
	return nil
}

func (r *rollbarCore) Sync() error {
	r.client.Wait()
	return nil
}
