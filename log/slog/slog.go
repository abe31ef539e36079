package slog

import (
	"cmp"
	"context"
	stdslog "log/slog"
	"slices"

	"github.com/unkn0wn-root/subcache"
)

var _ subcache.Logger = Logger{}

// Logger writes cache events to a *slog.Logger. Fields are emitted sorted by
// key; with Group set they are nested under that group. A nil L logs through
// slog.Default().
type Logger struct {
	L     *stdslog.Logger
	Group string
}

func (s Logger) Debug(msg string, f subcache.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f subcache.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f subcache.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f subcache.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(level stdslog.Level, msg string, f subcache.Fields) {
	l := s.L
	if l == nil {
		l = stdslog.Default()
	}
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	as := attrs(f)
	if s.Group != "" && len(as) > 0 {
		as = []stdslog.Attr{{Key: s.Group, Value: stdslog.GroupValue(as...)}}
	}
	l.LogAttrs(ctx, level, msg, as...)
}

func attrs(f subcache.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	slices.SortFunc(out, func(a, b stdslog.Attr) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
