package rdf

import (
	"fmt"
	"strings"

	"github.com/knakk/rdf"
)

// Aliases for the underlying term types so that callers only need this
// package. The concrete representations come from github.com/knakk/rdf.
type (
	Term      = rdf.Term
	IRI       = rdf.IRI
	Literal   = rdf.Literal
	Blank     = rdf.Blank
	Triple    = rdf.Triple
	Subject   = rdf.Subject
	Predicate = rdf.Predicate
	Object    = rdf.Object
	TermType  = rdf.TermType
	Format    = rdf.Format
)

// Term type and serialization format constants.
const (
	TermBlank   = rdf.TermBlank
	TermIRI     = rdf.TermIRI
	TermLiteral = rdf.TermLiteral

	NTriples = rdf.NTriples
	Turtle   = rdf.Turtle
)

// Frequently used term IRIs.
var (
	RDFType = MustURI(NSRDF + "type")

	XSDString  = MustURI(NSXSD + "string")
	XSDDate    = MustURI(NSXSD + "date")
	XSDInteger = MustURI(NSXSD + "integer")

	EDTFDatatype = MustURI(NSUMDType + "edtf")
)

// URI constructs an IRI term, validating the string form.
func URI(s string) (IRI, error) {
	iri, err := rdf.NewIRI(s)
	if err != nil {
		return IRI{}, fmt.Errorf("invalid URI %q: %w", s, err)
	}
	return iri, nil
}

// MustURI constructs an IRI term and panics on invalid input. Reserved for
// compile-time constants.
func MustURI(s string) IRI {
	iri, err := rdf.NewIRI(s)
	if err != nil {
		panic(fmt.Sprintf("invalid URI %q: %v", s, err))
	}
	return iri
}

// NewLiteral constructs a plain string literal.
func NewLiteral(s string) Literal {
	lit, err := rdf.NewLiteral(s)
	if err != nil {
		// NewLiteral only fails for unsupported Go types; strings never do.
		panic(err)
	}
	return lit
}

// NewLangLiteral constructs a language-tagged literal.
func NewLangLiteral(s, lang string) (Literal, error) {
	lit, err := rdf.NewLangLiteral(s, lang)
	if err != nil {
		return Literal{}, fmt.Errorf("invalid language tag %q: %w", lang, err)
	}
	return lit, nil
}

// NewTypedLiteral constructs a literal with an explicit datatype.
func NewTypedLiteral(s string, datatype IRI) Literal {
	return rdf.NewTypedLiteral(s, datatype)
}

// NewBlank constructs a blank node with the given label.
func NewBlank(id string) (Blank, error) {
	b, err := rdf.NewBlank(id)
	if err != nil {
		return Blank{}, fmt.Errorf("invalid blank node id %q: %w", id, err)
	}
	return b, nil
}

// NewTriple assembles a triple from subject, predicate, and object terms.
func NewTriple(subj Subject, pred Predicate, obj Object) Triple {
	return Triple{Subj: subj, Pred: pred, Obj: obj}
}

// TermsEqual reports whether two terms are the same term. Comparison uses
// the type and canonical serialization, which sidesteps unexported fields
// in parsed literals.
func TermsEqual(a, b Term) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.Serialize(NTriples) == b.Serialize(NTriples)
}

// TripleKey returns the canonical single-line N-Triples form of a triple,
// used as the set key in Graph.
func TripleKey(t Triple) string {
	return strings.TrimSpace(t.Serialize(NTriples))
}

// IsURI reports whether a term is an IRI.
func IsURI(t Term) bool {
	return t != nil && t.Type() == TermIRI
}

// IsLiteral reports whether a term is a literal.
func IsLiteral(t Term) bool {
	return t != nil && t.Type() == TermLiteral
}

// AsObject converts a generic term to an object position term.
func AsObject(t Term) (Object, error) {
	switch v := t.(type) {
	case IRI:
		return v, nil
	case Literal:
		return v, nil
	case Blank:
		return v, nil
	default:
		return nil, fmt.Errorf("term %v cannot appear in object position", t)
	}
}

// AsSubject converts a generic term to a subject position term.
func AsSubject(t Term) (Subject, error) {
	switch v := t.(type) {
	case IRI:
		return v, nil
	case Blank:
		return v, nil
	default:
		return nil, fmt.Errorf("term %v cannot appear in subject position", t)
	}
}

// FormatForMediaType maps an RDF media type to a parser format.
func FormatForMediaType(mediaType string) (Format, error) {
	mt := strings.TrimSpace(strings.ToLower(mediaType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "text/turtle", "application/x-turtle":
		return Turtle, nil
	case "application/n-triples", "text/plain":
		return NTriples, nil
	default:
		return NTriples, fmt.Errorf("unsupported RDF media type: %q", mediaType)
	}
}
