package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApplyInsertData tests INSERT DATA application
func TestApplyInsertData(t *testing.T) {
	update, err := ParseUpdate(`INSERT DATA { <http://example.com/1> <http://purl.org/dc/terms/title> "Foo" . }`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, ""))
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Has(NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"), NewLiteral("Foo"))))
}

// TestApplyDeleteData tests DELETE DATA application
func TestApplyDeleteData(t *testing.T) {
	tr := NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"), NewLiteral("Foo"))
	g := GraphFromTriples(tr)

	update, err := ParseUpdate(`DELETE DATA { <http://example.com/1> <http://purl.org/dc/terms/title> "Foo" . }`)
	require.NoError(t, err)
	require.NoError(t, update.Apply(g, ""))
	assert.True(t, g.IsEmpty())
}

// TestApplyWithPrefixes tests PREFIX declarations in the update text
func TestApplyWithPrefixes(t *testing.T) {
	update, err := ParseUpdate(`PREFIX ex: <http://example.com/ns#>
INSERT DATA { <http://example.com/1> ex:flag "yes" }`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, ""))
	assert.True(t, g.Has(NewTriple(
		MustURI("http://example.com/1"),
		MustURI("http://example.com/ns#flag"),
		NewLiteral("yes"),
	)))
}

// TestApplyModifyWithVariables tests DELETE/INSERT/WHERE with a variable
func TestApplyModifyWithVariables(t *testing.T) {
	subj := MustURI("http://example.com/1")
	rights := MustURI(NSDCTerms + "accessRights")
	g := GraphFromTriples(
		NewTriple(subj, rights, MustURI(NSUMDAccess+"Campus")),
		NewTriple(subj, MustURI(NSDCTerms+"title"), NewLiteral("Keep me")),
	)

	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
PREFIX umdaccess: <http://vocab.lib.umd.edu/access#>
DELETE { ?s dcterms:accessRights ?o }
INSERT { ?s dcterms:accessRights umdaccess:Public }
WHERE { ?s dcterms:accessRights ?o }`)
	require.NoError(t, err)

	require.NoError(t, update.Apply(g, ""))
	assert.False(t, g.Has(NewTriple(subj, rights, MustURI(NSUMDAccess+"Campus"))))
	assert.True(t, g.Has(NewTriple(subj, rights, MustURI(NSUMDAccess+"Public"))))
	assert.True(t, g.Has(NewTriple(subj, MustURI(NSDCTerms+"title"), NewLiteral("Keep me"))))
}

// TestApplyModifyNoMatchIsNoop tests that an unmatched WHERE changes nothing
func TestApplyModifyNoMatchIsNoop(t *testing.T) {
	subj := MustURI("http://example.com/1")
	g := GraphFromTriples(NewTriple(subj, MustURI(NSDCTerms+"title"), NewLiteral("Foo")))

	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
DELETE { ?s dcterms:subject ?o } WHERE { ?s dcterms:subject ?o }`)
	require.NoError(t, err)

	before := g.Clone()
	require.NoError(t, update.Apply(g, ""))
	assert.True(t, g.Equal(before))
}

// TestApplyRelativeIRI tests <> resolution against the base URI
func TestApplyRelativeIRI(t *testing.T) {
	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
INSERT DATA { <> dcterms:title "Self" }`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, "http://example.com/obj/1"))
	assert.True(t, g.Has(NewTriple(
		MustURI("http://example.com/obj/1"),
		MustURI(NSDCTerms+"title"),
		NewLiteral("Self"),
	)))

	// Without a base, relative IRIs are an error.
	err = update.Apply(NewGraph(), "")
	assert.Error(t, err)
}

// TestApplyDeleteWhere tests the DELETE WHERE shorthand
func TestApplyDeleteWhere(t *testing.T) {
	subj := MustURI("http://example.com/1")
	title := MustURI(NSDCTerms + "title")
	g := GraphFromTriples(
		NewTriple(subj, title, NewLiteral("One")),
		NewTriple(subj, title, NewLiteral("Two")),
		NewTriple(subj, MustURI(NSDCTerms+"subject"), NewLiteral("Kept")),
	)

	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
DELETE WHERE { ?s dcterms:title ?o }`)
	require.NoError(t, err)

	require.NoError(t, update.Apply(g, ""))
	assert.Equal(t, 1, g.Len())
}

// TestApplyMultipleOperations tests ;-separated statements
func TestApplyMultipleOperations(t *testing.T) {
	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
DELETE DATA { <http://example.com/1> dcterms:title "Old" } ;
INSERT DATA { <http://example.com/1> dcterms:title "New" }`)
	require.NoError(t, err)

	g := GraphFromTriples(NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"), NewLiteral("Old")))
	require.NoError(t, update.Apply(g, ""))
	require.Equal(t, 1, g.Len())
	assert.True(t, g.Has(NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"), NewLiteral("New"))))
}

// TestApplyTypedAndTaggedLiterals tests literal annotations
func TestApplyTypedAndTaggedLiterals(t *testing.T) {
	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
INSERT DATA {
  <http://example.com/1> dcterms:title "Titre"@fr .
  <http://example.com/1> dcterms:date "2024-01-15"^^xsd:date .
}`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, ""))
	assert.Equal(t, 2, g.Len())

	tagged, err := NewLangLiteral("Titre", "fr")
	require.NoError(t, err)
	assert.True(t, g.Has(NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"title"), tagged)))
	assert.True(t, g.Has(NewTriple(MustURI("http://example.com/1"), MustURI(NSDCTerms+"date"), NewTypedLiteral("2024-01-15", XSDDate))))
}

// TestApplyPredicateObjectLists tests ; and , within a triple block
func TestApplyPredicateObjectLists(t *testing.T) {
	update, err := ParseUpdate(`PREFIX dcterms: <http://purl.org/dc/terms/>
INSERT DATA {
  <http://example.com/1> dcterms:title "A", "B" ;
      dcterms:subject <http://example.com/s1> .
}`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, ""))
	assert.Equal(t, 3, g.Len())
}

// TestApplyRDFTypeKeyword tests the `a` predicate shorthand
func TestApplyRDFTypeKeyword(t *testing.T) {
	update, err := ParseUpdate(`PREFIX pcdm: <http://pcdm.org/models#>
INSERT DATA { <http://example.com/1> a pcdm:Object }`)
	require.NoError(t, err)

	g := NewGraph()
	require.NoError(t, update.Apply(g, ""))
	assert.True(t, g.HasType(MustURI("http://example.com/1"), MustURI(NSPCDM+"Object")))
}

// TestParseUpdateErrors tests rejection of malformed or unsupported input
func TestParseUpdateErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "VariableInInsertData", text: `INSERT DATA { ?s <http://p> "v" }`},
		{name: "UnknownPrefix", text: `INSERT DATA { <http://s> nope:p "v" }`},
		{name: "UnterminatedBlock", text: `INSERT DATA { <http://s> <http://p> "v"`},
		{name: "UnsupportedOperation", text: `LOAD <http://example.com/data.ttl>`},
		{name: "UnterminatedString", text: `INSERT DATA { <http://s> <http://p> "v }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUpdate(tt.text)
			assert.Error(t, err)
		})
	}
}
