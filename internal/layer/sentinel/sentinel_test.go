package sentinel

import "testing"

func TestOpenDirectRequiresAddr(t *testing.T) {
	_, err := Open(HostDescriptor{})
	if err == nil {
		t.Fatal("expected error for empty descriptor")
	}
}

func TestOpenDirect(t *testing.T) {
	client, err := Open(HostDescriptor{Addr: "127.0.0.1:6379"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()
	if client.Options().Addr != "127.0.0.1:6379" {
		t.Errorf("Addr = %q", client.Options().Addr)
	}
}

func TestOpenSentinel(t *testing.T) {
	client, err := Open(HostDescriptor{
		MasterName:    "mymaster",
		SentinelAddrs: []string{"127.0.0.1:26379"},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()
}

func TestIsFailoverError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errReadonly{}, true},
	}
	for _, c := range cases {
		if got := IsFailoverError(c.err); got != c.want {
			t.Errorf("IsFailoverError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

type errReadonly struct{}

func (errReadonly) Error() string { return "READONLY You can't write against a read only replica" }
