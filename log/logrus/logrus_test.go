package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/sitecache"
)

func TestLogrusLoggerMapsErr(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	l.Info("install failed", sitecache.Fields{"version": "v2", "err": errors.New("404")})

	e := hook.LastEntry()
	if e == nil {
		t.Fatalf("no entry logged")
	}
	if e.Data["version"] != "v2" {
		t.Fatalf("data=%v", e.Data)
	}
	if err, ok := e.Data[logrus.ErrorKey].(error); !ok || err.Error() != "404" {
		t.Fatalf("err field=%v", e.Data[logrus.ErrorKey])
	}
}
