package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerKeyValueOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "worker")

	log.Info("Job completed", "jobId", "abc", "spans", 3)

	out := buf.String()
	for _, want := range []string{"[worker]", "[INFO]", "Job completed", "jobId=abc", "spans=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestWithPrefixExtends(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "worker").WithPrefix("queue")

	log.Warn("Task failed")

	if !strings.Contains(buf.String(), "[worker:queue]") {
		t.Errorf("output %q missing extended prefix", buf.String())
	}
}

func TestOddKeyValuePairsIgnored(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "worker")

	log.Error("bad call", "dangling")

	out := buf.String()
	if !strings.Contains(out, "bad call") || strings.Contains(out, "dangling") {
		t.Errorf("unexpected output %q", out)
	}
}
