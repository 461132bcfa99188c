// Package snowflake generates time-ordered 63-bit ids. The client uses them
// for the unique ids of optimistic messages.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Node issues ids for one process. Ids from one Node are strictly increasing.
type Node struct {
	mu     sync.Mutex
	last   int64
	node   int64
	step   int64
	prefix string
	clock  func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("node number must be between 0 and %d, got %d", nodeMax, node)
	}
	return &Node{
		node:   node,
		prefix: "go-" + strconv.FormatInt(node, 10) + "-",
		clock:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if now < n.last {
		// Clock moved backwards; keep counting from the last timestamp.
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.last {
				now = n.clock()
			}
		}
	} else {
		n.step = 0
	}

	n.last = now
	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// UniqueID returns a fresh client-side message unique id.
func (n *Node) UniqueID() string {
	return n.prefix + strconv.FormatInt(n.Generate(), 36)
}

// Time returns the creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}

// NodeOf returns the node number encoded in id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}
