package control_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xdpfabric/afxdp/control"
)

func TestLogrusEventSinkEmitsAtRequestedLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	sink := control.NewLogrusEventSink(logger)
	sink.Emit(control.Event{Level: "warn", Message: "interface detached", Fields: map[string]any{"if_index": 3}})

	out := buf.String()
	require.Contains(t, out, "interface detached")
	require.Contains(t, out, "if_index=3")
	require.Contains(t, out, "level=warning")
}

func TestLogrusEventSinkDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	sink := control.NewLogrusEventSink(logger)
	sink.Emit(control.Event{Message: "program attached"})

	require.Contains(t, buf.String(), "level=info")
}
