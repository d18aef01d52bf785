package rdf

// Diff computes the triples to delete and insert to turn the existing graph
// into the desired graph. Triples present in both graphs appear in neither
// side of the result.
func Diff(existing, desired *Graph) (deletes, inserts *Graph) {
	if existing == nil {
		existing = NewGraph()
	}
	if desired == nil {
		desired = NewGraph()
	}
	deletes = existing.Subtract(desired)
	inserts = desired.Subtract(existing)
	return deletes, inserts
}
