package portalloc

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func fakeListen(busy map[int]bool) func(string, string) (net.Listener, error) {
	return func(network, addr string) (net.Listener, error) {
		_, p, _ := net.SplitHostPort(addr)
		port, _ := strconv.Atoi(p)
		if busy[port] {
			return nil, errors.New("address already in use")
		}
		return net.Listen("tcp", "127.0.0.1:0")
	}
}

func TestNew_InvalidRange(t *testing.T) {
	for _, r := range [][2]int{{0, 10}, {10, 5}, {65000, 70000}} {
		if _, err := New(r[0], r[1]); err == nil {
			t.Errorf("expected error for range %v", r)
		}
	}
}

func TestNext_SkipsBusyAndAllocated(t *testing.T) {
	a, err := New(4100, 4104)
	if err != nil {
		t.Fatal(err)
	}
	a.listen = fakeListen(map[int]bool{4101: true})

	var got []int
	for i := 0; i < 4; i++ {
		p, err := a.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, p)
	}
	want := []int{4100, 4102, 4103, 4104}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if _, err := a.Next(); err == nil {
		t.Fatal("expected exhaustion error")
	}

	a.Release(4102)
	if p, err := a.Next(); err != nil || p != 4102 {
		t.Fatalf("expected released port 4102, got %d (%v)", p, err)
	}
	if a.InUse() != 4 {
		t.Errorf("expected 4 ports in use, got %d", a.InUse())
	}
}

func TestIndependentAllocators(t *testing.T) {
	a, _ := New(4200, 4201)
	b, _ := New(4200, 4201)
	a.listen = fakeListen(nil)
	b.listen = fakeListen(nil)

	pa, _ := a.Next()
	pb, _ := b.Next()
	if pa != 4200 || pb != 4200 {
		t.Errorf("allocators should not share state, got %d and %d", pa, pb)
	}
}

func TestNext_RealListener(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	a, err := New(busy, busy)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Next(); err == nil {
		t.Error("expected busy port to be skipped")
	}
}
