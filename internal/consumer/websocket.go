package consumer

import (
	"github.com/relaybus/channels/internal/consumerrors"
	"github.com/relaybus/channels/internal/layer"
)

// ConnectHandler is the optional hook a WebsocketConsumer's outer struct
// implements to customize connect() behavior (spec.md §4.8). Returning
// consumerrors.DenyConnection closes the socket; returning
// consumerrors.AcceptConnection accepts with a chosen subprotocol;
// returning nil leaves accept/deny entirely up to the implementation
// (it must call Accept itself if it wants the connection to proceed);
// any other error is treated as unhandled and aborts the connection.
// Not implementing this interface means the default Websocket_connect
// behavior applies: accept with no subprotocol.
type ConnectHandler interface {
	Connect() error
}

// ReceiveMessageHandler is the optional hook for websocket.receive;
// exactly one of textData/bytesData is non-nil, matching the upstream
// event's text xor bytes shape.
type ReceiveMessageHandler interface {
	ReceiveMessage(textData *string, bytesData []byte) error
}

// DisconnectHandler is the optional hook for websocket.disconnect.
type DisconnectHandler interface {
	Disconnect(code int) error
}

// WebsocketConsumer provides the default websocket.connect/receive/
// disconnect handlers spec.md §4.8 describes, embeddable by a concrete
// consumer type. Because Go has no virtual dispatch through embedding,
// construction is two-step: build the outer struct with a nil embedded
// field, call NewWebsocketConsumer with the outer struct as handler, then
// assign the result into the outer struct's field before calling Run.
//
//	type MyConsumer struct { *consumer.WebsocketConsumer }
//	my := &MyConsumer{}
//	ws, err := consumer.NewWebsocketConsumer(my, scope, receive, send, cfg)
//	my.WebsocketConsumer = ws
//	err = my.Run(ctx)
type WebsocketConsumer struct {
	*Consumer
}

// NewWebsocketConsumer builds the embedded *Consumer for a websocket
// handler. handler should be the outer struct embedding the returned
// WebsocketConsumer (see type doc), so its dispatch table and hook-
// interface checks see the fully assembled type.
func NewWebsocketConsumer(handler any, scope Scope, receive ReceiveFunc, send SendFunc, cfg Config) (*WebsocketConsumer, error) {
	base, err := New(handler, scope, receive, send, cfg)
	if err != nil {
		return nil, err
	}
	return &WebsocketConsumer{Consumer: base}, nil
}

// Accept sends websocket.accept upstream, optionally negotiating
// subprotocol.
func (w *WebsocketConsumer) Accept(subprotocol string) error {
	event := layer.Message{"type": "websocket.accept"}
	if subprotocol != "" {
		event["subprotocol"] = subprotocol
	}
	return w.Consumer.Send(w.Context(), event)
}

// SendText sends a websocket.send event carrying a text frame.
func (w *WebsocketConsumer) SendText(text string) error {
	return w.Consumer.Send(w.Context(), layer.Message{"type": "websocket.send", "text": text})
}

// SendBytes sends a websocket.send event carrying a binary frame.
func (w *WebsocketConsumer) SendBytes(data []byte) error {
	return w.Consumer.Send(w.Context(), layer.Message{"type": "websocket.send", "bytes": data})
}

// Close sends websocket.close upstream with the given code and ends the
// dispatch loop cleanly.
func (w *WebsocketConsumer) Close(code int) error {
	if err := w.Consumer.Send(w.Context(), layer.Message{"type": "websocket.close", "code": code}); err != nil {
		return err
	}
	return consumerrors.StopConsumer{}
}

// Websocket_connect is the default handler for the websocket.connect
// event. If the outer struct implements ConnectHandler, its Connect()
// result is interpreted per that interface's doc; otherwise the default
// is a bare accept.
func (w *WebsocketConsumer) Websocket_connect(event layer.Message) error {
	hook, ok := w.Handler().(ConnectHandler)
	if !ok {
		return w.Accept("")
	}
	err := hook.Connect()
	switch e := err.(type) {
	case nil:
		return nil
	case consumerrors.DenyConnection:
		return w.Close(e.Code)
	case consumerrors.AcceptConnection:
		return w.Accept(e.Subprotocol)
	default:
		return err
	}
}

// Websocket_receive is the default handler for the websocket.receive
// event: it extracts the text xor bytes payload and, if the outer struct
// implements ReceiveMessageHandler, forwards it.
func (w *WebsocketConsumer) Websocket_receive(event layer.Message) error {
	hook, ok := w.Handler().(ReceiveMessageHandler)
	if !ok {
		return nil
	}
	if text, ok := event["text"].(string); ok {
		return hook.ReceiveMessage(&text, nil)
	}
	if data, ok := event["bytes"].([]byte); ok {
		return hook.ReceiveMessage(nil, data)
	}
	return nil
}

// Websocket_disconnect is the default handler for the websocket.
// disconnect event: it forwards the close code to DisconnectHandler if
// implemented, then always ends the dispatch loop, per spec.md §4.8
// ("always followed by stop-consumer").
func (w *WebsocketConsumer) Websocket_disconnect(event layer.Message) error {
	if hook, ok := w.Handler().(DisconnectHandler); ok {
		code, _ := event["code"].(int)
		if err := hook.Disconnect(code); err != nil {
			return err
		}
	}
	return consumerrors.StopConsumer{}
}
