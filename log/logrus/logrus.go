package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/subcache"
)

var _ subcache.Logger = LogrusLogger{}

// LogrusLogger logs through E. An error field is moved to logrus.ErrorKey so
// hooks that look for it (sentry, etc.) find it; formatters sort the rest.
type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f subcache.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l LogrusLogger) Info(msg string, f subcache.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l LogrusLogger) Warn(msg string, f subcache.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l LogrusLogger) Error(msg string, f subcache.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l LogrusLogger) log(level logrus.Level, msg string, f subcache.Fields) {
	if !l.E.Logger.IsLevelEnabled(level) {
		return
	}
	e := l.E
	if len(f) > 0 {
		fields := make(logrus.Fields, len(f))
		for k, v := range f {
			if err, ok := v.(error); ok && k == "err" {
				e = e.WithError(err)
				continue
			}
			fields[k] = v
		}
		e = e.WithFields(fields)
	}
	e.Log(level, msg)
}
