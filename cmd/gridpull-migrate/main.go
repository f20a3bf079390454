package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gridpull/gridpull/pkg/storage"
)

var (
	fromType = flag.String("from-type", "sqlite", "Source store type (memory or sqlite)")
	fromPath = flag.String("from-path", "data/dispatcher.db", "Source database path (sqlite only)")
	toType   = flag.String("to-type", "sqlite", "Destination store type (memory or sqlite)")
	toPath   = flag.String("to-path", "", "Destination database path (sqlite only)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("GridPull store migration tool")

	if *fromType == "sqlite" && *toType == "sqlite" && *fromPath == *toPath {
		log.Fatal("source and destination paths must differ")
	}

	src, err := openStore(*fromType, *fromPath)
	if err != nil {
		log.Fatalf("Failed to open source store: %v", err)
	}
	defer src.Close()

	dst, err := openStore(*toType, *toPath)
	if err != nil {
		log.Fatalf("Failed to open destination store: %v", err)
	}
	defer dst.Close()

	log.Printf("Migrating %s (%s) -> %s (%s)", *fromType, *fromPath, *toType, *toPath)

	stats, err := storage.Migrate(src, dst)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Printf("Workers migrated: %d", stats.WorkersMigrated)
	log.Printf("Tasks migrated:   %d", stats.TasksMigrated)
	for _, e := range stats.Errors {
		log.Printf("Warning: %s", e)
	}
	if len(stats.Errors) > 0 {
		log.Printf("Completed with %d record errors", len(stats.Errors))
		os.Exit(1)
	}
	log.Println("Migration completed successfully")
}

func openStore(storeType, path string) (storage.Store, error) {
	switch storeType {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return storage.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store type %q", storeType)
	}
}
