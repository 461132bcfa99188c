package snowflake

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateIncreases(t *testing.T) {
	n, err := NewNode(7)
	if err != nil {
		t.Fatal(err)
	}
	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d after %d", id, prev)
		}
		prev = id
	}
	if NodeOf(prev) != 7 {
		t.Fatalf("node = %d", NodeOf(prev))
	}
}

func TestClockBackwards(t *testing.T) {
	n, _ := NewNode(1)
	ms := int64(1800000000000)
	n.clock = func() int64 { return ms }
	a := n.Generate()
	ms -= 5000
	b := n.Generate()
	if b <= a {
		t.Fatalf("id went backwards: %d then %d", a, b)
	}
	if got := Time(a).UnixMilli(); got != 1800000000000 {
		t.Fatalf("time = %d", got)
	}
}

func TestUniqueID(t *testing.T) {
	n, _ := NewNode(3)
	a, b := n.UniqueID(), n.UniqueID()
	if a == b || !strings.HasPrefix(a, "go-3-") {
		t.Fatalf("unique ids %q %q", a, b)
	}
	if d := time.Since(Time(n.Generate())); d < 0 || d > time.Minute {
		t.Fatalf("encoded time off by %v", d)
	}
}

func TestNodeRange(t *testing.T) {
	for _, node := range []int64{-1, 1024} {
		if _, err := NewNode(node); err == nil {
			t.Fatalf("node %d accepted", node)
		}
	}
}
