package stopsearch

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/stopsearch/internal/capability"
)

const (
	// nameSimilarityThreshold matches the pg_trgm default.
	nameSimilarityThreshold  = 0.3
	aliasSimilarityThreshold = 0.4

	// maxHeuristicTokens bounds the token clauses of the heuristic fallback.
	maxHeuristicTokens = 3
	heuristicTokenLen  = 3
)

// Shared column lists. Every retrieval query returns these names so rows
// convert the same way regardless of stage.
const (
	stopColumns = `s.stop_id, s.stop_name, s.parent_station, s.location_type, s.platform_code,
		s.city, s.popularity, ps.stop_name AS parent_name`
	parentJoin = `LEFT JOIN stops ps ON ps.stop_id = s.parent_station`
	groupExpr  = `COALESCE(NULLIF(s.parent_station, ''), s.stop_id)`
)

// sqlArgs collects positional arguments while a query is assembled.
// Placeholders are written as "?"; the Postgres store rebinds them.
//
// Bound values are normalized text, which holds only letters, digits and
// spaces, so LIKE patterns need no escaping.
type sqlArgs struct {
	args []any
}

func (a *sqlArgs) bind(v any) string {
	a.args = append(a.args, v)
	return "?"
}

func prefixPattern(s string) string   { return s + "%" }
func containsPattern(s string) string { return "%" + s + "%" }

func coreOrNorm(qc *QueryContext) string {
	if qc.Core != "" {
		return qc.Core
	}
	return qc.Norm
}

// primaryQuery searches the precomputed index joined with both alias
// tables, ordered exact, prefix, core prefix, similarity, alias similarity.
func primaryQuery(qc *QueryContext, limit int) (string, []any) {
	a := &sqlArgs{}
	norm, core := qc.Norm, coreOrNorm(qc)

	aliasHits := fmt.Sprintf(`
		WITH alias_hits AS (
			SELECT a.stop_id, a.alias_text, a.alias_norm, a.weight AS alias_weight,
			       similarity(a.alias_norm, %s) AS alias_sim, 'alias' AS alias_source
			FROM stop_aliases a
			WHERE a.alias_norm = %s
			   OR a.alias_norm LIKE %s
			   OR a.alias_norm LIKE %s
			   OR similarity(a.alias_norm, %s) >= %s
			UNION ALL
			SELECT p.stop_id, p.alias_text, stop_norm(unaccent(p.alias_text)) AS alias_norm, p.weight AS alias_weight,
			       similarity(stop_norm(unaccent(p.alias_text)), %s) AS alias_sim, 'app_alias' AS alias_source
			FROM app_stop_aliases p
			WHERE stop_norm(unaccent(p.alias_text)) LIKE %s
			   OR stop_strip(stop_norm(unaccent(p.alias_text))) LIKE %s
			   OR similarity(stop_norm(unaccent(p.alias_text)), %s) >= %s
		)`,
		a.bind(norm), a.bind(norm), a.bind(prefixPattern(norm)), a.bind(containsPattern(norm)),
		a.bind(norm), a.bind(aliasSimilarityThreshold),
		a.bind(norm), a.bind(containsPattern(norm)), a.bind(prefixPattern(core)),
		a.bind(norm), a.bind(aliasSimilarityThreshold),
	)

	body := fmt.Sprintf(`
		SELECT %s,
		       i.group_id, i.is_parent, i.has_hub_token,
		       similarity(i.name_norm, %s) AS name_sim,
		       similarity(i.core_norm, %s) AS core_sim,
		       ah.alias_text, ah.alias_norm, ah.alias_weight, ah.alias_sim, ah.alias_source
		FROM stop_search_index i
		JOIN stops s ON s.stop_id = i.stop_id
		%s
		LEFT JOIN alias_hits ah ON ah.stop_id = i.stop_id
		WHERE i.name_norm = %s
		   OR i.name_norm LIKE %s
		   OR i.name_norm LIKE %s
		   OR i.core_norm LIKE %s
		   OR similarity(i.name_norm, %s) >= %s
		   OR similarity(i.core_norm, %s) >= %s
		   OR ah.stop_id IS NOT NULL
		ORDER BY
		   CASE
		     WHEN i.name_norm = %s THEN 0
		     WHEN i.name_norm LIKE %s THEN 1
		     WHEN i.core_norm LIKE %s THEN 2
		     ELSE 3
		   END,
		   name_sim DESC,
		   COALESCE(ah.alias_sim, 0) DESC,
		   i.is_parent DESC,
		   i.has_hub_token DESC,
		   s.popularity DESC,
		   s.stop_id
		LIMIT %s`,
		stopColumns,
		a.bind(norm), a.bind(core),
		parentJoin,
		a.bind(norm), a.bind(prefixPattern(norm)), a.bind(containsPattern(norm)), a.bind(prefixPattern(core)),
		a.bind(norm), a.bind(nameSimilarityThreshold), a.bind(core), a.bind(nameSimilarityThreshold),
		a.bind(norm), a.bind(prefixPattern(norm)), a.bind(prefixPattern(core)),
		a.bind(limit),
	)
	return aliasHits + body, a.args
}

// foldExpr folds a raw text column inline as closely to Normalize as the
// store's functions allow.
func foldExpr(col string, caps capability.Set) string {
	if caps.NormalizeFunc {
		return "stop_norm(" + col + ")"
	}
	expr := "lower(" + col + ")"
	if caps.Unaccent {
		expr = "lower(unaccent(" + col + "))"
	}
	for _, sep := range []string{"-", ".", "''", "’", "_", "/", ","} {
		expr = fmt.Sprintf("replace(%s, '%s', ' ')", expr, sep)
	}
	return fmt.Sprintf("replace(%s, '  ', ' ')", expr)
}

// heuristicClauses are the similarity-free fuzzy matchers: the first
// character of the query and the leading characters of its longer tokens.
func heuristicClauses(a *sqlArgs, expr string, qc *QueryContext) []string {
	first, _ := utf8.DecodeRuneInString(qc.Norm)
	clauses := []string{fmt.Sprintf("substr(%s, 1, 1) = %s", expr, a.bind(string(first)))}
	n := 0
	for _, tok := range qc.MatchTokens() {
		if n == maxHeuristicTokens {
			break
		}
		r := []rune(tok)
		if len(r) < heuristicTokenLen {
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s LIKE %s", expr, a.bind(containsPattern(string(r[:heuristicTokenLen])))))
		n++
	}
	return clauses
}

// fallbackQuery is the degraded base match: the index without alias joins
// when present, otherwise a live fold of stops.
func fallbackQuery(qc *QueryContext, caps capability.Set, limit int) (string, []any) {
	a := &sqlArgs{}
	norm, core := qc.Norm, coreOrNorm(qc)

	var (
		from, nameExpr, coreExpr, extraCols string
	)
	if caps.SearchIndex {
		from = "FROM stop_search_index i\n\t\tJOIN stops s ON s.stop_id = i.stop_id"
		nameExpr, coreExpr = "i.name_norm", "i.core_norm"
		extraCols = "i.group_id, i.is_parent, i.has_hub_token"
	} else {
		from = "FROM stops s"
		nameExpr = foldExpr("s.stop_name", caps)
		if caps.StripFunc && caps.NormalizeFunc {
			coreExpr = "stop_strip(" + nameExpr + ")"
		}
		extraCols = groupExpr + " AS group_id"
	}

	var simCols string
	if caps.Similarity {
		simCols = fmt.Sprintf(",\n\t\t       similarity(%s, %s) AS name_sim", nameExpr, a.bind(norm))
		if coreExpr != "" {
			simCols += fmt.Sprintf(",\n\t\t       similarity(%s, %s) AS core_sim", coreExpr, a.bind(core))
		}
	}

	where := []string{
		fmt.Sprintf("%s = %s", nameExpr, a.bind(norm)),
		fmt.Sprintf("%s LIKE %s", nameExpr, a.bind(prefixPattern(norm))),
		fmt.Sprintf("%s LIKE %s", nameExpr, a.bind(containsPattern(norm))),
	}
	if coreExpr != "" {
		where = append(where, fmt.Sprintf("%s LIKE %s", coreExpr, a.bind(prefixPattern(core))))
	}
	if caps.Similarity {
		where = append(where, fmt.Sprintf("similarity(%s, %s) >= %s", nameExpr, a.bind(norm), a.bind(nameSimilarityThreshold)))
	} else {
		where = append(where, heuristicClauses(a, nameExpr, qc)...)
	}

	order := []string{fmt.Sprintf(`CASE
		     WHEN %s = %s THEN 0
		     WHEN %s LIKE %s THEN 1
		     WHEN %s LIKE %s THEN 2
		     ELSE 3
		   END`,
		nameExpr, a.bind(norm),
		nameExpr, a.bind(prefixPattern(norm)),
		nameExpr, a.bind(containsPattern(norm)),
	)}
	if caps.Similarity {
		order = append(order, "name_sim DESC")
	}
	order = append(order, "s.popularity DESC", "s.stop_id")

	query := fmt.Sprintf(`
		SELECT %s,
		       %s%s
		%s
		%s
		WHERE %s
		ORDER BY %s
		LIMIT %s`,
		stopColumns, extraCols, simCols,
		from, parentJoin,
		strings.Join(where, "\n\t\t   OR "),
		strings.Join(order, ",\n\t\t   "),
		a.bind(limit),
	)
	return query, a.args
}

// aliasQuery matches the stop-level alias table on its stored normal form.
func aliasQuery(qc *QueryContext, caps capability.Set, limit int) (string, []any) {
	a := &sqlArgs{}
	norm := qc.Norm

	simCol := ""
	if caps.Similarity {
		simCol = fmt.Sprintf(", similarity(al.alias_norm, %s) AS alias_sim", a.bind(norm))
	}
	where := []string{
		fmt.Sprintf("al.alias_norm = %s", a.bind(norm)),
		fmt.Sprintf("al.alias_norm LIKE %s", a.bind(prefixPattern(norm))),
		fmt.Sprintf("al.alias_norm LIKE %s", a.bind(containsPattern(norm))),
	}
	if caps.Similarity {
		where = append(where, fmt.Sprintf("similarity(al.alias_norm, %s) >= %s", a.bind(norm), a.bind(aliasSimilarityThreshold)))
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       %s AS group_id,
		       al.alias_text, al.alias_norm, al.weight AS alias_weight, 'alias' AS alias_source%s
		FROM stop_aliases al
		JOIN stops s ON s.stop_id = al.stop_id
		%s
		WHERE %s
		ORDER BY al.weight DESC, s.stop_id
		LIMIT %s`,
		stopColumns, groupExpr, simCol,
		parentJoin,
		strings.Join(where, "\n\t\t   OR "),
		a.bind(limit),
	)
	return query, a.args
}

// appAliasQuery matches the app-level alias table, which stores raw text.
func appAliasQuery(qc *QueryContext, caps capability.Set, limit int) (string, []any) {
	a := &sqlArgs{}
	norm := qc.Norm
	aliasExpr := foldExpr("ap.alias_text", caps)

	where := []string{
		fmt.Sprintf("%s LIKE %s", aliasExpr, a.bind(containsPattern(norm))),
	}
	if caps.Similarity {
		where = append(where, fmt.Sprintf("similarity(%s, %s) >= %s", aliasExpr, a.bind(norm), a.bind(aliasSimilarityThreshold)))
	}

	query := fmt.Sprintf(`
		SELECT %s,
		       %s AS group_id,
		       ap.alias_text, %s AS alias_norm, ap.weight AS alias_weight, 'app_alias' AS alias_source
		FROM app_stop_aliases ap
		JOIN stops s ON s.stop_id = ap.stop_id
		%s
		WHERE %s
		ORDER BY ap.weight DESC, s.stop_id
		LIMIT %s`,
		stopColumns, groupExpr, aliasExpr,
		parentJoin,
		strings.Join(where, "\n\t\t   OR "),
		a.bind(limit),
	)
	return query, a.args
}
