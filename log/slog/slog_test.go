package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/sitecache"
)

func TestSlogLoggerStableOrder(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))}

	l.Info("activated", sitecache.Fields{"version": "v2", "deleted": 1})

	line := buf.String()
	if !strings.Contains(line, "msg=activated deleted=1 version=v2") {
		t.Fatalf("line=%q", line)
	}
}
