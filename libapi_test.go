package rtpsbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestFacadeExportsPropagateErrors(t *testing.T) {
	topic := NewTopic("t", false, false)
	if err := RegisterWriter[float64](nil, topic); !errors.Is(err, ErrParticipantRequired) {
		t.Fatalf("expected participant required error, got %v", err)
	}
	if err := RegisterReader[float64](nil, topic, func(uint64, float64, error) {}); !errors.Is(err, ErrParticipantRequired) {
		t.Fatalf("expected participant required error, got %v", err)
	}
	if err := Send(context.Background(), nil, topic, 1.0); !errors.Is(err, ErrParticipantRequired) {
		t.Fatalf("expected participant required error, got %v", err)
	}
	if _, err := NewParticipant(context.Background(), nil, NewNopServiceLogger(), ParticipantDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
}

func TestFacadeDescribeType(t *testing.T) {
	if got := DescribeType[float64]().Name; got != "double" {
		t.Fatalf("expected double, got %s", got)
	}
	if got := DescribeType[*structpb.Struct]().Name; got != "google.protobuf.Struct" {
		t.Fatalf("expected proto full name, got %s", got)
	}
}

func TestFacadeLoopback(t *testing.T) {
	ctx := context.Background()
	p, err := NewParticipant(ctx, &Config{ParticipantName: "loopback"}, NewNopServiceLogger(), ParticipantDependencies{})
	if err != nil {
		t.Fatalf("unexpected error creating participant: %v", err)
	}
	defer func() {
		if err := p.RemoveParticipant(); err != nil {
			t.Errorf("unexpected error removing participant: %v", err)
		}
	}()

	topic := NewTopic("Greeting", true, false)
	var mu sync.Mutex
	var got []string
	if err := RegisterReaderBestEffort(p, topic, func(v string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	}); err != nil {
		t.Fatalf("unexpected error registering reader: %v", err)
	}
	if err := RegisterWriter[string](p, topic); err != nil {
		t.Fatalf("unexpected error registering writer: %v", err)
	}
	if p.State() != StateActive {
		t.Fatalf("expected active participant, got %s", p.State())
	}
	if err := Send(ctx, p, topic, "hello"); err != nil {
		t.Fatalf("unexpected error sending: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected one hello, got %v", got)
	}
}

func TestParsePropertiesExport(t *testing.T) {
	key, value := "site", "lab"
	props := ParseProperties([]*string{&key, &value, nil})
	if props["site"] != "lab" {
		t.Fatalf("unexpected properties: %v", props)
	}
}
