package model

import (
	"strings"

	"plastron.evalgo.org/rdf"
)

// Describe builds a description of a resource from its graph, the inverse
// of Serialize. Triples outside the binding's declared properties are
// ignored. Embedded objects are recovered from hash-URI subjects under the
// resource URI.
func (b *Binding) Describe(g *rdf.Graph, uri string) (*Description, error) {
	d, err := b.describeSubject(g, uri)
	if err != nil {
		return nil, err
	}
	d.URI = uri
	return d, nil
}

func (b *Binding) describeSubject(g *rdf.Graph, subjectURI string) (*Description, error) {
	subj, err := rdf.URI(subjectURI)
	if err != nil {
		return nil, err
	}
	d := &Description{
		Binding:  b,
		Values:   make(map[string][]rdf.Object),
		Embedded: make(map[string][]*Description),
	}

	// Datatypes claimed by typed properties, per predicate. An untyped
	// property sharing a predicate with a typed one (identifier vs handle)
	// must not absorb the typed values.
	claimed := make(map[string]map[string]bool)
	for _, p := range b.Properties {
		if p.Embed == nil && p.HasDatatype() {
			key := p.Predicate.Serialize(rdf.NTriples)
			if claimed[key] == nil {
				claimed[key] = make(map[string]bool)
			}
			claimed[key][p.Datatype.Serialize(rdf.NTriples)] = true
		}
	}

	ownTypes := make(map[string]bool)
	for _, t := range b.Types {
		ownTypes[t.Serialize(rdf.NTriples)] = true
	}

	for _, p := range b.Properties {
		if p.Embed != nil {
			for _, obj := range g.Objects(subj, p.Predicate) {
				iri, ok := obj.(rdf.IRI)
				if !ok {
					continue
				}
				s := iri.String()
				if !strings.HasPrefix(s, subjectURI+"#") {
					continue
				}
				child, err := p.Embed.describeSubject(g, s)
				if err != nil {
					return nil, err
				}
				child.Fragment = s[len(subjectURI):]
				d.Embedded[p.Name] = append(d.Embedded[p.Name], child)
			}
			continue
		}

		for _, obj := range g.Objects(subj, p.Predicate) {
			if rdf.TermsEqual(p.Predicate, rdf.RDFType) && ownTypes[obj.Serialize(rdf.NTriples)] {
				continue
			}
			switch v := obj.(type) {
			case rdf.IRI:
				if p.URIValue {
					d.Values[p.Name] = append(d.Values[p.Name], v)
				}
			case rdf.Literal:
				if p.URIValue {
					continue
				}
				dt := v.DataType.Serialize(rdf.NTriples)
				if p.HasDatatype() {
					if dt == p.Datatype.Serialize(rdf.NTriples) {
						d.Values[p.Name] = append(d.Values[p.Name], v)
					}
					continue
				}
				if claimed[p.Predicate.Serialize(rdf.NTriples)][dt] {
					continue
				}
				d.Values[p.Name] = append(d.Values[p.Name], v)
			}
		}
	}
	return d, nil
}
