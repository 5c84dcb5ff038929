package inbox

import (
	"strings"
	"testing"
)

func TestMarkAppliedIgnoresDuplicates(t *testing.T) {
	if !strings.Contains(markAppliedSQL, "ON CONFLICT (event_id) DO NOTHING") {
		t.Fatalf("mark statement must tolerate redelivery:\n%s", markAppliedSQL)
	}
	if !strings.Contains(seenSQL, "WHERE event_id = $1") {
		t.Fatalf("unexpected seen statement:\n%s", seenSQL)
	}
}
