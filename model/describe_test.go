package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/rdf"
)

func TestDescribeRoundTrip(t *testing.T) {
	item := NewItem()
	uri := "http://localhost/rest/objects/1"
	subj := rdf.MustURI(uri)

	g := rdf.GraphFromTriples(
		rdf.NewTriple(subj, rdf.RDFType, rdf.MustURI(rdf.NSUMD+"Item")),
		rdf.NewTriple(subj, rdf.RDFType, rdf.MustURI(rdf.NSPCDM+"Object")),
		rdf.NewTriple(subj, dctermsTitle, rdf.NewLiteral("Daily Log")),
		rdf.NewTriple(subj, dctermsIdentifier, rdf.NewLiteral("umd:1")),
		rdf.NewTriple(subj, dctermsIdentifier, rdf.NewTypedLiteral("hdl:1903.1/42", handleDatatype)),
		rdf.NewTriple(subj, dctermsRights, rdf.MustURI("http://rightsstatements.org/vocab/InC/1.0/")),
		rdf.NewTriple(subj, dctermsSubject, rdf.MustURI(uri+"#s0")),
		rdf.NewTriple(rdf.MustURI(uri+"#s0"), rdfsLabel, rdf.NewLiteral("Maryland")),
		rdf.NewTriple(rdf.MustURI(uri+"#s0"), owlSameAs, rdf.MustURI("http://id.loc.gov/authorities/subjects/sh85081557")),
	)

	d, err := item.Describe(g, uri)
	require.NoError(t, err)

	assert.Equal(t, uri, d.URI)
	require.Len(t, d.Values["title"], 1)
	assert.Equal(t, "Daily Log", d.Values["title"][0].(rdf.Literal).String())

	// The typed handle value must not leak into the plain identifier.
	require.Len(t, d.Values["identifier"], 1)
	assert.Equal(t, "umd:1", d.Values["identifier"][0].(rdf.Literal).String())
	require.Len(t, d.Values["handle"], 1)
	assert.Equal(t, "hdl:1903.1/42", d.Values["handle"][0].(rdf.Literal).String())

	// The binding's own types are not access-class values.
	assert.Empty(t, d.Values["access"])

	require.Len(t, d.Embedded["subject"], 1)
	child := d.Embedded["subject"][0]
	assert.Equal(t, "#s0", child.Fragment)
	require.Len(t, child.Values["label"], 1)
	assert.Equal(t, "Maryland", child.Values["label"][0].(rdf.Literal).String())

	// Serializing the description reproduces the source graph.
	out, err := item.Serialize(d)
	require.NoError(t, err)
	assert.True(t, out.Equal(g), "expected:\n%s\ngot:\n%s", g.SerializeNTriples(), out.SerializeNTriples())

	// And the rebuilt description passes validation.
	assert.True(t, item.Validate(d).Ok())
}

func TestDescribeIgnoresForeignTriples(t *testing.T) {
	item := NewItem()
	uri := "http://localhost/rest/objects/2"
	subj := rdf.MustURI(uri)

	g := rdf.GraphFromTriples(
		rdf.NewTriple(subj, dctermsTitle, rdf.NewLiteral("Title")),
		rdf.NewTriple(subj, rdf.MustURI(rdf.NSPCDM+"memberOf"), rdf.MustURI("http://localhost/rest/collections/1")),
		rdf.NewTriple(rdf.MustURI("http://localhost/rest/objects/3"), dctermsTitle, rdf.NewLiteral("Other")),
	)

	d, err := item.Describe(g, uri)
	require.NoError(t, err)
	require.Len(t, d.Values["title"], 1)
	assert.Equal(t, "Title", d.Values["title"][0].(rdf.Literal).String())
	assert.Empty(t, d.Embedded["subject"])
}
