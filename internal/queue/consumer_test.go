package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestParseMessageDefaults(t *testing.T) {
	msg, err := ParseMessage(redis.XMessage{
		ID: "1-0",
		Values: map[string]any{
			"query": "coffee shops",
		},
	})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.TaskType != TaskTypeSearchQuery {
		t.Errorf("task type = %q, want default search_query", msg.TaskType)
	}
	if msg.Attempt != 1 {
		t.Errorf("attempt = %d, want default 1", msg.Attempt)
	}
}

func TestParseMessageRejectsMissingQuery(t *testing.T) {
	_, err := ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestParseMessageRejectsUnknownTaskType(t *testing.T) {
	_, err := ParseMessage(redis.XMessage{
		ID:     "1-0",
		Values: map[string]any{"task_type": "repo_sync", "query": "x"},
	})
	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestMessageValuesRoundTrip(t *testing.T) {
	original := Message{
		RequestID: "req-1",
		Query:     "coffee shops",
		UserID:    "u1",
		IP:        "1.2.3.4",
		Filters:   `{"city":"Mumbai"}`,
		ResultKey: "result:req-1",
		TraceID:   "trace-1",
		Attempt:   2,
	}

	parsed, err := ParseMessage(redis.XMessage{
		ID:     "2-0",
		Values: messageValues(original, 3),
	})
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if parsed.Query != original.Query || parsed.UserID != original.UserID ||
		parsed.IP != original.IP || parsed.Filters != original.Filters ||
		parsed.ResultKey != original.ResultKey || parsed.TraceID != original.TraceID ||
		parsed.RequestID != original.RequestID {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
	if parsed.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", parsed.Attempt)
	}
}
