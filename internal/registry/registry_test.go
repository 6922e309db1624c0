package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/relaybus/channels/internal/layer"
)

type stubLayer struct{ name string }

func (s *stubLayer) NewChannel(ctx context.Context, prefix string) (string, error) { return "", nil }
func (s *stubLayer) Send(ctx context.Context, channel string, message layer.Message) error {
	return nil
}
func (s *stubLayer) Receive(ctx context.Context, channel string) (layer.Message, error) {
	return nil, nil
}
func (s *stubLayer) GroupAdd(ctx context.Context, group, channel string) error      { return nil }
func (s *stubLayer) GroupDiscard(ctx context.Context, group, channel string) error  { return nil }
func (s *stubLayer) GroupSend(ctx context.Context, group string, message layer.Message) error {
	return nil
}
func (s *stubLayer) Flush(ctx context.Context) error { return nil }
func (s *stubLayer) Close() error                    { return nil }

func TestRegisterGetUnregister(t *testing.T) {
	r := New()
	if r.Has("default") {
		t.Fatal("expected empty registry")
	}

	l := &stubLayer{name: "a"}
	r.Register("default", l)
	if !r.Has("default") {
		t.Fatal("expected alias to be registered")
	}

	got, err := r.Get("default")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.(*stubLayer) != l {
		t.Fatal("Get returned a different layer instance")
	}

	r.Unregister("default")
	if r.Has("default") {
		t.Fatal("expected alias to be gone after Unregister")
	}

	if _, err := r.Get("default"); !errors.Is(err, ErrNoSuchLayer) {
		t.Fatalf("expected ErrNoSuchLayer, got %v", err)
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := New()
	first := &stubLayer{name: "first"}
	second := &stubLayer{name: "second"}

	r.Register("alias", first)
	r.Register("alias", second)

	got, err := r.Get("alias")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.(*stubLayer) != second {
		t.Fatal("expected second registration to replace the first")
	}
}

func TestUnregisterMissingIsNoOp(t *testing.T) {
	r := New()
	r.Unregister("nope") // must not panic
}
