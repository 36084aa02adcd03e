// Package stopsearch finds transit stops by name.
//
// A search normalizes the query, checks which features the store offers,
// retrieves candidates and ranks them:
//
//	engine := stopsearch.New(store)
//	stops, err := engine.SearchStops(ctx, "Lausanne, Bel-Air", 10)
//
// # Retrieval
//
// When the store has the precomputed index, both alias tables and the
// normalization, similarity and accent-folding functions, one primary query
// fetches candidates. Otherwise, or when that query fails or returns too few
// rows, a fallback cascade runs: a base match on the index or on a live fold
// of stop names, then the stop alias table, then the app alias table. Every
// stage takes its timeout from a shared per-call budget and is skipped once
// the budget runs low.
//
// # Ranking
//
// Candidates fall into tiers (exact, prefix, contains or word-start, fuzzy)
// and are scored within a tier by similarity plus bonuses for aliases,
// popularity, city and hub matches, and comma-qualified queries. Results are
// deduplicated by station group and then by normalized name. Rank is pure
// and deterministic; RankStopCandidates exposes it for fixture rows.
//
// # Backoff
//
// When a query ranks nothing, the search is retried once with its last
// character removed, using the fallback cascade only.
package stopsearch
