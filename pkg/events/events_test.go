package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestNewWrapsPayload(t *testing.T) {
	ev, err := New(TypeOrderPlaced, "req-1", map[string]any{"orderId": "o-1", "items": 2})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if ev.EventID == "" || ev.EventType != TypeOrderPlaced || ev.RequestID != "req-1" {
		t.Fatalf("unexpected envelope %+v", ev)
	}
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["orderId"] != "o-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ev, _ := New(TypeOrderStatusChanged, "", map[string]string{"status": "Confirmed"})
	if err := r.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := r.Events(); len(got) != 1 || got[0].EventID != ev.EventID {
		t.Fatalf("unexpected events %+v", got)
	}
	boom := errors.New("broker down")
	r.FailWith(boom)
	if err := r.Publish(context.Background(), ev); !errors.Is(err, boom) {
		t.Fatalf("expected failure, got %v", err)
	}
}
