package consumer

import (
	"encoding/json"
	"fmt"

	"github.com/relaybus/channels/internal/consumerrors"
	"github.com/relaybus/channels/internal/layer"
)

// ReceiveJSONHandler is the hook a JSONConsumer's outer struct implements
// to receive decoded JSON content (spec.md §4.8 JSON specialization).
type ReceiveJSONHandler interface {
	ReceiveJSON(content any) error
}

// JSONConsumer decodes incoming text frames as JSON before dispatch and
// adds SendJSON for the outbound direction. Built on encoding/json, the
// one ambient concern this repo leaves on the standard library rather
// than a third-party codec — see DESIGN.md.
type JSONConsumer struct {
	*WebsocketConsumer
}

// NewJSONConsumer builds the embedded WebsocketConsumer for a JSON
// handler. Follows the same two-step construction as
// NewWebsocketConsumer: build the outer struct, call this with it as
// handler, then assign the result back before calling Run.
func NewJSONConsumer(handler any, scope Scope, receive ReceiveFunc, send SendFunc, cfg Config) (*JSONConsumer, error) {
	ws, err := NewWebsocketConsumer(handler, scope, receive, send, cfg)
	if err != nil {
		return nil, err
	}
	return &JSONConsumer{WebsocketConsumer: ws}, nil
}

// Websocket_receive shadows WebsocketConsumer's default: it decodes the
// text frame as JSON and dispatches to the outer struct's ReceiveJSON,
// returning consumerrors.ErrEncoding on a decode failure rather than
// silently dropping the frame.
func (j *JSONConsumer) Websocket_receive(event layer.Message) error {
	text, ok := event["text"].(string)
	if !ok {
		return nil
	}
	var content any
	if err := json.Unmarshal([]byte(text), &content); err != nil {
		return fmt.Errorf("%w: %v", consumerrors.ErrEncoding, err)
	}
	hook, ok := j.Handler().(ReceiveJSONHandler)
	if !ok {
		return nil
	}
	return hook.ReceiveJSON(content)
}

// SendJSON encodes content as JSON and sends it as a text frame.
func (j *JSONConsumer) SendJSON(content any) error {
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("%w: %v", consumerrors.ErrEncoding, err)
	}
	return j.SendText(string(body))
}
