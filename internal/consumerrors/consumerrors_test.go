package consumerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsControlFlow(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"stop", StopConsumer{}, true},
		{"deny", DenyConnection{Code: 4403}, true},
		{"accept", AcceptConnection{Subprotocol: "chat"}, true},
		{"wrapped stop", fmt.Errorf("wrap: %w", StopConsumer{}), true},
		{"sentinel", ErrNoHandler, false},
		{"plain", errors.New("boom"), false},
	}
	for _, c := range cases {
		if got := IsControlFlow(c.err); got != c.want {
			t.Errorf("%s: IsControlFlow = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDenyConnectionMessage(t *testing.T) {
	err := DenyConnection{Code: 4403}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}
