// Package importer loads gazetteer data: GTFS static stops, curated and
// application aliases, and the precomputed search index.
//
// # Basic Usage
//
//	imp := importer.New(store, logger)
//
//	stats, err := imp.ImportGTFS(ctx, "feed.zip", nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("wrote %d stops, %d index rows in %v\n",
//	    stats.StopsWritten, stats.IndexRows, stats.Duration)
//
// # Pipeline
//
//  1. Parse: the feed is read with go-gtfs; stop_times are counted per
//     station group to derive popularity
//  2. Convert: GTFS stops become gazetteer records in parallel workers
//  3. Store: records are written in batched transactions, stations first
//  4. Index: stop_search_index is rebuilt with the search normalizer
//
// Alias files are YAML:
//
//	aliases:
//	  - stop_id: Parent8503000
//	    text: Zürich HB
//	    weight: 2
//	app_aliases:
//	  - stop_id: Parent8501120
//	    text: Gare de Lausanne
//
// Only one import runs at a time per Importer; a second call while one is
// in progress fails with ErrImportInProgress.
package importer
