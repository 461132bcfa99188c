package main

import (
	"log"

	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
)

// Dropping the table makes every client resynchronize from zero on its next
// catch-up pass.
func main() {
	cfg := config.Load()

	session, err := db.NewSession(cfg.Scylla())
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	log.Println("Dropping table sync_checkpoints...")
	if err := session.Query("DROP TABLE IF EXISTS sync_checkpoints").Exec(); err != nil {
		log.Fatalf("Failed to drop table: %v", err)
	}
	log.Println("Table dropped successfully.")
}
