package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaybus/channels/internal/consumerrors"
	"github.com/relaybus/channels/internal/layer"
)

type echoJSONHandler struct {
	*JSONConsumer
}

func (e *echoJSONHandler) ReceiveJSON(content any) error {
	m, _ := content.(map[string]any)
	return e.SendJSON(map[string]any{"echoed": m["text"]})
}

func TestJSONRoundTrip(t *testing.T) {
	my := &echoJSONHandler{}
	recv := &scriptedReceive{events: []layer.Message{
		{"type": "websocket.connect"},
		{"type": "websocket.receive", "text": `{"text":"hi"}`},
	}}
	send := &recordingSend{}

	jc, err := NewJSONConsumer(my, Scope{Type: "websocket"}, recv.fn, send.fn, Config{})
	if err != nil {
		t.Fatalf("NewJSONConsumer: %v", err)
	}
	my.JSONConsumer = jc

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = my.Run(ctx)

	events := send.all()
	if len(events) != 2 {
		t.Fatalf("events = %v, want accept + echoed send", events)
	}
	if events[1]["text"] != `{"echoed":"hi"}` {
		t.Errorf("echoed text = %v", events[1]["text"])
	}
}

type strictJSONHandler struct {
	*JSONConsumer
}

func (s *strictJSONHandler) ReceiveJSON(content any) error { return nil }

func TestJSONDecodeErrorPropagates(t *testing.T) {
	my := &strictJSONHandler{}
	recv := &scriptedReceive{events: []layer.Message{
		{"type": "websocket.connect"},
		{"type": "websocket.receive", "text": `not json`},
	}}
	send := &recordingSend{}

	jc, err := NewJSONConsumer(my, Scope{Type: "websocket"}, recv.fn, send.fn, Config{})
	if err != nil {
		t.Fatalf("NewJSONConsumer: %v", err)
	}
	my.JSONConsumer = jc

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = my.Run(ctx)
	if err == nil {
		t.Fatal("expected decode error to propagate")
	}
	if !errors.Is(err, consumerrors.ErrEncoding) {
		t.Errorf("err = %v, want wrapping ErrEncoding", err)
	}
}
