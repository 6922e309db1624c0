package layer

import "testing"

func TestResolveCapacityFirstMatchWins(t *testing.T) {
	base := NewBaseLayer(Config{
		Capacity: 100,
		ChannelCapacity: []CapacityOverride{
			{Pattern: "chat.*", Capacity: 10},
			{Pattern: "chat.room-1", Capacity: 5},
		},
	})

	// "chat.*" matches first in list order, so it wins over the more
	// specific "chat.room-1" pattern (Open Question decision in DESIGN.md).
	if got := base.ResolveCapacity("chat.room-1"); got != 10 {
		t.Fatalf("ResolveCapacity = %d, want 10 (first match)", got)
	}
}

func TestResolveCapacityFallsBackToDefault(t *testing.T) {
	base := NewBaseLayer(Config{Capacity: 42})
	if got := base.ResolveCapacity("anything"); got != 42 {
		t.Fatalf("ResolveCapacity = %d, want 42", got)
	}
}

func TestNewBaseLayerDefaults(t *testing.T) {
	base := NewBaseLayer(Config{})
	if base.Config.Prefix != "asgi" {
		t.Errorf("Prefix = %q, want asgi", base.Config.Prefix)
	}
	if base.Config.Expiry != 60 {
		t.Errorf("Expiry = %d, want 60", base.Config.Expiry)
	}
	if base.Config.GroupExpiry != 86400 {
		t.Errorf("GroupExpiry = %d, want 86400", base.Config.GroupExpiry)
	}
	if base.Config.Capacity != 100 {
		t.Errorf("Capacity = %d, want 100", base.Config.Capacity)
	}
	if base.Logger() == nil {
		t.Error("Logger() = nil, want log.Default()")
	}
}

func TestMessageTypeOf(t *testing.T) {
	m := Message{"type": "chat.message", "text": "hi"}
	if got := m.TypeOf(); got != "chat.message" {
		t.Errorf("TypeOf = %q, want chat.message", got)
	}
	if got := (Message{}).TypeOf(); got != "" {
		t.Errorf("TypeOf on empty message = %q, want empty", got)
	}
}
