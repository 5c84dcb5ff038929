package kafkax

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaFallsBack(t *testing.T) {
	msg := kafka.Message{Topic: "tenant.policy.updated.v1", Key: []byte("tenant-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "tenant-1" || meta.EventType != "tenant.policy.updated.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	msg.Headers = EventMeta{EventID: "evt-9", EventType: "custom"}.Headers()
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-9" || meta.EventType != "custom" {
		t.Fatalf("unexpected meta from headers: %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
}
