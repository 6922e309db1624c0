package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaybus/channels/internal/layer"
)

func deadlineNow() time.Time {
	return time.Now().Add(time.Second)
}

// wsBridge adapts one gorilla/websocket connection into the
// consumer.ReceiveFunc/SendFunc contract: the thinnest possible ASGI
// host, translating raw frames into websocket.connect/receive/disconnect
// events and websocket.accept/send/close events back into frames. A real
// ASGI server does the same translation at the protocol-server boundary;
// this bridge exists only to drive the demo endpoint, not as a
// general-purpose WebSocket server.
type wsBridge struct {
	conn      *websocket.Conn
	connected bool
	closed    bool
}

func newWSBridge(conn *websocket.Conn) *wsBridge {
	return &wsBridge{conn: conn}
}

// receive implements consumer.ReceiveFunc.
func (b *wsBridge) receive(ctx context.Context) (layer.Message, error) {
	if !b.connected {
		b.connected = true
		return layer.Message{"type": "websocket.connect"}, nil
	}
	if b.closed {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	mt, data, err := b.conn.ReadMessage()
	if err != nil {
		b.closed = true
		code := websocket.CloseNoStatusReceived
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			code = closeErr.Code
		}
		return layer.Message{"type": "websocket.disconnect", "code": code}, nil
	}

	switch mt {
	case websocket.TextMessage:
		return layer.Message{"type": "websocket.receive", "text": string(data)}, nil
	case websocket.BinaryMessage:
		return layer.Message{"type": "websocket.receive", "bytes": data}, nil
	default:
		return b.receive(ctx)
	}
}

// send implements consumer.SendFunc.
func (b *wsBridge) send(ctx context.Context, event layer.Message) error {
	switch event.TypeOf() {
	case "websocket.accept":
		return nil
	case "websocket.send":
		if text, ok := event["text"].(string); ok {
			return b.conn.WriteMessage(websocket.TextMessage, []byte(text))
		}
		if data, ok := event["bytes"].([]byte); ok {
			return b.conn.WriteMessage(websocket.BinaryMessage, data)
		}
		return nil
	case "websocket.close":
		code, _ := event["code"].(int)
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		msg := websocket.FormatCloseMessage(code, "")
		if err := b.conn.WriteControl(websocket.CloseMessage, msg, deadlineNow()); err != nil {
			log.Printf("WARN: write close frame: %v", err)
		}
		return b.conn.Close()
	default:
		return nil
	}
}
