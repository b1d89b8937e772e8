package main

import (
	"log"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	// The event log is the source of truth; make sure the derived frequency
	// table matches it before serving.
	if err := store.RebuildCorrectionCounts(); err != nil {
		log.Fatalf("Failed to rebuild correction counts: %v", err)
	}

	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	log.Printf("Catalog loaded entries=%d from %s", len(catalog.Entries), cfg.CatalogPath)

	classifier := NewLLMClassifier(cfg, catalog)
	market := NewMarketClient(cfg)
	identifier := NewIdentifier(cfg, store, classifier, market)

	StartPriceRefreshScheduler(cfg, store, market)

	log.Println("Starting BakuScan server...")
	server := NewServer(cfg, store, identifier)
	if err := server.Run(); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
