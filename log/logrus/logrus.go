package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/sitecache"
)

var _ sitecache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f sitecache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f sitecache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f sitecache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f sitecache.Fields) { l.with(f).Error(msg) }

// with maps the "err" field to logrus.ErrorKey so formatters render it as an error.
func (l LogrusLogger) with(f sitecache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
