package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/mahaj/chatcore/pkg/checkpoint"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
)

func main() {
	replication := flag.Int("replication", 1, "replication factor used when the keyspace is created")
	flag.Parse()

	cfg := config.Load()

	if err := db.EnsureKeyspace(cfg.Scylla(), *replication); err != nil {
		log.Fatalf("Failed to create keyspace %s: %v", cfg.ScyllaKeyspace, err)
	}

	session, err := db.NewSession(cfg.Scylla())
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := checkpoint.NewScylla(session).EnsureSchema(ctx); err != nil {
		log.Fatal(err)
	}

	log.Println("Table sync_checkpoints created successfully")
}
