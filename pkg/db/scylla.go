package db

import (
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

// Options configures the cluster connection. Zero values take the defaults
// below.
type Options struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
	Retries     int
}

const (
	DefaultConsistency = "QUORUM"
	DefaultTimeout     = 5 * time.Second
	DefaultRetries     = 3
)

func newCluster(opts Options) (*gocql.ClusterConfig, error) {
	if len(opts.Hosts) == 0 {
		return nil, fmt.Errorf("scylla: no hosts configured")
	}
	if opts.Consistency == "" {
		opts.Consistency = DefaultConsistency
	}
	consistency, err := gocql.ParseConsistencyWrapper(opts.Consistency)
	if err != nil {
		return nil, fmt.Errorf("scylla: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}

	cluster := gocql.NewCluster(opts.Hosts...)
	cluster.Keyspace = opts.Keyspace
	cluster.Consistency = consistency
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: opts.Retries,
		Min:        100 * time.Millisecond,
		Max:        opts.Timeout / 5,
	}
	return cluster, nil
}

// NewSession connects to the cluster with the configured consistency and a
// bounded exponential backoff retry policy. Negative Retries disables retry.
func NewSession(opts Options) (*Session, error) {
	cluster, err := newCluster(opts)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Printf("Connected to ScyllaDB cluster %v (keyspace %s, %s)", opts.Hosts, cluster.Keyspace, cluster.Consistency)
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates opts.Keyspace with simple replication if it is
// missing. It connects through the system keyspace and closes that session
// again.
func EnsureKeyspace(opts Options, replication int) error {
	if replication < 1 {
		replication = 1
	}
	keyspace := opts.Keyspace
	opts.Keyspace = "system"
	sys, err := NewSession(opts)
	if err != nil {
		return err
	}
	defer sys.Close()

	// Replication options cannot be bound as query parameters.
	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	return sys.Query(stmt).Exec()
}
