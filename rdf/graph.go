package rdf

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/knakk/rdf"
)

// Graph is an unordered set of triples. The zero value is not usable; use
// NewGraph. Graphs are not safe for concurrent mutation.
type Graph struct {
	triples map[string]Triple
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{triples: make(map[string]Triple)}
}

// GraphFromTriples returns a graph holding the given triples.
func GraphFromTriples(triples ...Triple) *Graph {
	g := NewGraph()
	for _, t := range triples {
		g.Add(t)
	}
	return g
}

// Add inserts a triple. Duplicate triples are ignored.
func (g *Graph) Add(t Triple) {
	g.triples[TripleKey(t)] = t
}

// AddAll inserts every triple from another graph.
func (g *Graph) AddAll(other *Graph) {
	if other == nil {
		return
	}
	for k, t := range other.triples {
		g.triples[k] = t
	}
}

// Remove deletes a triple if present.
func (g *Graph) Remove(t Triple) {
	delete(g.triples, TripleKey(t))
}

// Has reports whether the graph contains the triple.
func (g *Graph) Has(t Triple) bool {
	_, ok := g.triples[TripleKey(t)]
	return ok
}

// Len returns the number of triples.
func (g *Graph) Len() int {
	return len(g.triples)
}

// IsEmpty reports whether the graph has no triples.
func (g *Graph) IsEmpty() bool {
	return g == nil || len(g.triples) == 0
}

// Triples returns the triples sorted by their canonical serialization.
func (g *Graph) Triples() []Triple {
	keys := make([]string, 0, len(g.triples))
	for k := range g.triples {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Triple, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.triples[k])
	}
	return out
}

// Clone returns a copy of the graph.
func (g *Graph) Clone() *Graph {
	out := NewGraph()
	out.AddAll(g)
	return out
}

// Objects returns every object of triples matching the subject and
// predicate.
func (g *Graph) Objects(subj Subject, pred Predicate) []Object {
	var out []Object
	for _, t := range g.Triples() {
		if TermsEqual(t.Subj, subj) && TermsEqual(t.Pred, pred) {
			out = append(out, t.Obj)
		}
	}
	return out
}

// Object returns the first object of triples matching the subject and
// predicate, or false when none match.
func (g *Graph) Object(subj Subject, pred Predicate) (Object, bool) {
	objs := g.Objects(subj, pred)
	if len(objs) == 0 {
		return nil, false
	}
	return objs[0], true
}

// Subjects returns every subject of triples matching the predicate and
// object.
func (g *Graph) Subjects(pred Predicate, obj Object) []Subject {
	var out []Subject
	for _, t := range g.Triples() {
		if TermsEqual(t.Pred, pred) && TermsEqual(t.Obj, obj) {
			out = append(out, t.Subj)
		}
	}
	return out
}

// SubjectGraph returns a new graph holding only the triples whose subject
// matches.
func (g *Graph) SubjectGraph(subj Subject) *Graph {
	out := NewGraph()
	for _, t := range g.Triples() {
		if TermsEqual(t.Subj, subj) {
			out.Add(t)
		}
	}
	return out
}

// HasType reports whether the graph stamps the subject with the given
// rdf:type.
func (g *Graph) HasType(subj Subject, typeIRI IRI) bool {
	return g.Has(NewTriple(subj, RDFType, typeIRI))
}

// Subtract returns the triples of g that are not in other.
func (g *Graph) Subtract(other *Graph) *Graph {
	out := NewGraph()
	for k, t := range g.triples {
		if other == nil {
			out.triples[k] = t
			continue
		}
		if _, ok := other.triples[k]; !ok {
			out.triples[k] = t
		}
	}
	return out
}

// Intersect returns the triples present in both graphs.
func (g *Graph) Intersect(other *Graph) *Graph {
	out := NewGraph()
	if other == nil {
		return out
	}
	for k, t := range g.triples {
		if _, ok := other.triples[k]; ok {
			out.triples[k] = t
		}
	}
	return out
}

// Equal reports whether two graphs contain exactly the same triples.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	for k := range g.triples {
		if _, ok := other.triples[k]; !ok {
			return false
		}
	}
	return true
}

// SerializeNTriples renders the graph in N-Triples form, one triple per
// line, sorted for stable output.
func (g *Graph) SerializeNTriples() string {
	var b strings.Builder
	for _, t := range g.Triples() {
		b.WriteString(TripleKey(t))
		b.WriteString("\n")
	}
	return b.String()
}

// TripleBlock renders the triples as a space-joined block suitable for
// embedding in a SPARQL update.
func (g *Graph) TripleBlock() string {
	parts := make([]string, 0, g.Len())
	for _, t := range g.Triples() {
		parts = append(parts, TripleKey(t))
	}
	return strings.Join(parts, " ")
}

// DecodeGraph parses triples from a reader in the given format.
func DecodeGraph(r io.Reader, format Format) (*Graph, error) {
	dec := rdf.NewTripleDecoder(r, format)
	triples, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("failed to decode RDF: %w", err)
	}
	return GraphFromTriples(triples...), nil
}

// ParseNTriples parses a graph from N-Triples text.
func ParseNTriples(text string) (*Graph, error) {
	return DecodeGraph(strings.NewReader(text), NTriples)
}

// ParseTurtle parses a graph from Turtle text.
func ParseTurtle(text string) (*Graph, error) {
	return DecodeGraph(strings.NewReader(text), Turtle)
}
