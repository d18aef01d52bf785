package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTriple(t *testing.T, s, p, o string) Triple {
	t.Helper()
	subj, err := URI(s)
	require.NoError(t, err)
	pred, err := URI(p)
	require.NoError(t, err)
	obj, err := URI(o)
	require.NoError(t, err)
	return NewTriple(subj, pred, obj)
}

func literalTriple(t *testing.T, s, p, value string) Triple {
	t.Helper()
	subj, err := URI(s)
	require.NoError(t, err)
	pred, err := URI(p)
	require.NoError(t, err)
	return NewTriple(subj, pred, NewLiteral(value))
}

// TestGraphSetSemantics tests that duplicate triples collapse
func TestGraphSetSemantics(t *testing.T) {
	g := NewGraph()
	tr := literalTriple(t, "http://example.com/1", NSDCTerms+"title", "Foo")

	g.Add(tr)
	g.Add(tr)
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Has(tr))

	g.Remove(tr)
	assert.Equal(t, 0, g.Len())
	assert.False(t, g.Has(tr))
	assert.True(t, g.IsEmpty())
}

// TestGraphLookups tests Objects, Object, and Subjects queries
func TestGraphLookups(t *testing.T) {
	g := NewGraph()
	subj := MustURI("http://example.com/1")
	title := MustURI(NSDCTerms + "title")

	g.Add(NewTriple(subj, title, NewLiteral("Foo")))
	g.Add(NewTriple(subj, title, NewLiteral("Bar")))
	g.Add(mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object"))

	objs := g.Objects(subj, title)
	assert.Len(t, objs, 2)

	first, ok := g.Object(subj, title)
	assert.True(t, ok)
	assert.Equal(t, "Bar", first.String())

	subjects := g.Subjects(MustURI(NSRDF+"type"), MustURI(NSPCDM+"Object"))
	require.Len(t, subjects, 1)
	assert.Equal(t, "http://example.com/1", subjects[0].String())

	assert.True(t, g.HasType(subj, MustURI(NSPCDM+"Object")))
	assert.False(t, g.HasType(subj, MustURI(NSPCDM+"Collection")))
}

// TestGraphSetOperations tests Subtract, Intersect, and Equal
func TestGraphSetOperations(t *testing.T) {
	a := GraphFromTriples(
		literalTriple(t, "http://example.com/1", NSDCTerms+"title", "Old"),
		mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object"),
	)
	b := GraphFromTriples(
		literalTriple(t, "http://example.com/1", NSDCTerms+"title", "New"),
		mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object"),
	)

	onlyA := a.Subtract(b)
	require.Equal(t, 1, onlyA.Len())
	assert.True(t, onlyA.Has(literalTriple(t, "http://example.com/1", NSDCTerms+"title", "Old")))

	both := a.Intersect(b)
	require.Equal(t, 1, both.Len())
	assert.True(t, both.Has(mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object")))

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))
}

// TestGraphParseRoundTrip tests N-Triples parse and serialize
func TestGraphParseRoundTrip(t *testing.T) {
	text := `<http://example.com/1> <http://purl.org/dc/terms/title> "Foo" .
<http://example.com/1> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://pcdm.org/models#Object> .
`
	g, err := ParseNTriples(text)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	reparsed, err := ParseNTriples(g.SerializeNTriples())
	require.NoError(t, err)
	assert.True(t, g.Equal(reparsed))
}

// TestGraphParseTurtle tests Turtle parsing with prefixes
func TestGraphParseTurtle(t *testing.T) {
	text := `@prefix dcterms: <http://purl.org/dc/terms/> .
<http://example.com/1> dcterms:title "Foo"@en ;
    dcterms:subject <http://example.com/subjects/1> .
`
	g, err := ParseTurtle(text)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	subj := MustURI("http://example.com/1")
	obj, ok := g.Object(subj, MustURI(NSDCTerms+"title"))
	require.True(t, ok)
	assert.Equal(t, "Foo", obj.String())

	lit, isLit := obj.(Literal)
	require.True(t, isLit)
	assert.Equal(t, "en", lit.Lang())
}

// TestDiff tests that common triples vanish from both sides
func TestDiff(t *testing.T) {
	existing := GraphFromTriples(
		literalTriple(t, "http://example.com/1", NSDCTerms+"title", "Old"),
		mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object"),
	)
	desired := GraphFromTriples(
		literalTriple(t, "http://example.com/1", NSDCTerms+"title", "New"),
		mustTriple(t, "http://example.com/1", NSRDF+"type", NSPCDM+"Object"),
	)

	deletes, inserts := Diff(existing, desired)
	assert.Equal(t, 1, deletes.Len())
	assert.Equal(t, 1, inserts.Len())

	// No triple may appear on both sides.
	assert.Equal(t, 0, deletes.Intersect(inserts).Len())

	// Equal graphs diff to nothing.
	d, i := Diff(existing, existing)
	assert.True(t, d.IsEmpty())
	assert.True(t, i.IsEmpty())

	// Nil graphs are treated as empty.
	d, i = Diff(nil, desired)
	assert.True(t, d.IsEmpty())
	assert.Equal(t, desired.Len(), i.Len())
}

// TestTermsEqual tests term comparison across construction paths
func TestTermsEqual(t *testing.T) {
	direct := NewLiteral("Foo")

	g, err := ParseNTriples(`<http://example.com/1> <http://purl.org/dc/terms/title> "Foo" .`)
	require.NoError(t, err)
	obj, ok := g.Object(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"))
	require.True(t, ok)

	assert.True(t, TermsEqual(direct, obj))
	assert.False(t, TermsEqual(direct, NewLiteral("Bar")))
	assert.False(t, TermsEqual(direct, MustURI("http://example.com/Foo")))
}

// TestFormatForMediaType tests media type to format mapping
func TestFormatForMediaType(t *testing.T) {
	tests := []struct {
		mediaType string
		want      Format
		wantErr   bool
	}{
		{mediaType: "text/turtle", want: Turtle},
		{mediaType: "text/turtle; charset=utf-8", want: Turtle},
		{mediaType: "application/n-triples", want: NTriples},
		{mediaType: "application/pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mediaType, func(t *testing.T) {
			got, err := FormatForMediaType(tt.mediaType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
