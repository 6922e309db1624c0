package main

import (
	"github.com/relaybus/channels/internal/consumer"
	"github.com/relaybus/channels/internal/layer"
)

// demoGroup is the single broadcast room the demo endpoint joins every
// connection to. A real deployment picks the group from the scope's path
// params; this binary is a smoke test for the consumer/layer wiring, not
// a chat server.
const demoGroup = "demo"

// demoChatConsumer echoes every text frame it receives to every
// connection in demoGroup via group_send, the sender's own connection
// included, and leaves the group on
// disconnect through consumer.Consumer's own cleanup.
type demoChatConsumer struct {
	*consumer.WebsocketConsumer
}

func newDemoChatConsumer(scope consumer.Scope, receive consumer.ReceiveFunc, send consumer.SendFunc, l layer.Layer) (*demoChatConsumer, error) {
	my := &demoChatConsumer{}
	ws, err := consumer.NewWebsocketConsumer(my, scope, receive, send, consumer.Config{
		Groups: []string{demoGroup},
		Layer:  l,
	})
	if err != nil {
		return nil, err
	}
	my.WebsocketConsumer = ws
	return my, nil
}

// ReceiveMessage implements consumer.ReceiveMessageHandler.
func (d *demoChatConsumer) ReceiveMessage(textData *string, bytesData []byte) error {
	if textData == nil {
		return nil
	}
	return d.Layer().GroupSend(d.Context(), demoGroup, layer.Message{
		"type": "chat.message",
		"text": *textData,
	})
}

// Chat_message is dispatched for every chat.message event fanned out by
// the group, including this connection's own messages.
func (d *demoChatConsumer) Chat_message(event layer.Message) error {
	text, _ := event["text"].(string)
	return d.SendText(text)
}
