package imports

import (
	"fmt"
	"strings"

	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
	"plastron.evalgo.org/spreadsheet"
)

// updateResource re-reads the existing description, diffs it against the
// desired description, and PATCHes the description URL when the diff is
// non-empty. Returns false for an unchanged resource.
func (e *Engine) updateResource(row *spreadsheet.Row, d *model.Description) (bool, error) {
	existing, err := e.opts.Client.GetGraph(d.URI, true)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", d.URI, err)
	}

	desired, err := e.model.Serialize(d)
	if err != nil {
		return false, err
	}

	deletes, inserts := rdf.Diff(e.relevantTriples(existing, d, desired), desired)
	if deletes.IsEmpty() && inserts.IsEmpty() {
		return false, nil
	}
	if err := e.opts.Client.PatchGraph(d.URI, deletes, inserts); err != nil {
		return false, fmt.Errorf("failed to patch %s: %w", d.URI, err)
	}
	e.logger.WithField("uri", d.URI).Info("Updated resource")
	return true, nil
}

// relevantTriples filters the existing graph down to the triples the
// model governs: subjects within the item's URI stem, predicates declared
// by the model, and only those rdf:type values the desired description
// also manages. Structural triples (membership, ordering, publication
// markers) stay out of the diff so a metadata update never deletes them.
func (e *Engine) relevantTriples(existing *rdf.Graph, d *model.Description, desired *rdf.Graph) *rdf.Graph {
	predicates := make(map[string]bool)
	binding, ok := e.model.(*model.Binding)
	if ok {
		collectPredicates(binding, predicates)
	}

	managedTypes := make(map[string]bool)
	for _, t := range desired.Triples() {
		if rdf.TermsEqual(t.Pred, rdf.RDFType) {
			managedTypes[t.Obj.Serialize(rdf.NTriples)] = true
		}
	}

	out := rdf.NewGraph()
	for _, t := range existing.Triples() {
		subj, isIRI := t.Subj.(rdf.IRI)
		if !isIRI || !withinStem(subj.String(), d.URI) {
			continue
		}
		if rdf.TermsEqual(t.Pred, rdf.RDFType) {
			obj := t.Obj.Serialize(rdf.NTriples)
			if managedTypes[obj] || isManagedAccessType(t.Obj) {
				out.Add(t)
			}
			continue
		}
		if len(predicates) == 0 || predicates[t.Pred.Serialize(rdf.NTriples)] {
			out.Add(t)
		}
	}
	return out
}

func collectPredicates(b *model.Binding, out map[string]bool) {
	for _, p := range b.Properties {
		out[p.Predicate.Serialize(rdf.NTriples)] = true
		if p.Embed != nil {
			collectPredicates(p.Embed, out)
		}
	}
}

func withinStem(uri, stem string) bool {
	return uri == stem || strings.HasPrefix(uri, stem+"#")
}

// isManagedAccessType reports whether a type value is an access class the
// model may rewrite. The publication markers are exempt: publish state
// belongs to the publication engine, not to metadata updates.
func isManagedAccessType(obj rdf.Object) bool {
	iri, ok := obj.(rdf.IRI)
	if !ok {
		return false
	}
	s := iri.String()
	if s == umdaccessPublished.String() || s == umdaccessHidden.String() {
		return false
	}
	return strings.HasPrefix(s, rdf.NSUMDAccess)
}
