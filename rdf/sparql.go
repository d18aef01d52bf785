package rdf

import "fmt"

// BuildSPARQLUpdate renders a SPARQL Update statement applying the given
// deletions and insertions. Triples present in both sets cancel out before
// rendering. The shape of the statement depends on which sets are
// non-empty:
//
//   - both empty: the empty string
//   - only inserts: INSERT DATA { ... }
//   - only deletes: DELETE DATA { ... }
//   - both: DELETE { ... } INSERT { ... } WHERE {}
//
// Triples are serialized in N-Triples form.
func BuildSPARQLUpdate(deletes, inserts *Graph) string {
	if deletes == nil {
		deletes = NewGraph()
	}
	if inserts == nil {
		inserts = NewGraph()
	}

	// Remove triples scheduled for both deletion and insertion.
	common := deletes.Intersect(inserts)
	if common.Len() > 0 {
		deletes = deletes.Subtract(common)
		inserts = inserts.Subtract(common)
	}

	hasDeletes := deletes.Len() > 0
	hasInserts := inserts.Len() > 0

	switch {
	case hasDeletes && hasInserts:
		return fmt.Sprintf("DELETE { %s } INSERT { %s } WHERE {}", deletes.TripleBlock(), inserts.TripleBlock())
	case hasDeletes:
		return fmt.Sprintf("DELETE DATA { %s }", deletes.TripleBlock())
	case hasInserts:
		return fmt.Sprintf("INSERT DATA { %s }", inserts.TripleBlock())
	default:
		return ""
	}
}
