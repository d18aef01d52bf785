package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/rdf"
)

func TestHeaderColumns(t *testing.T) {
	item := NewItem()

	var labels []string
	for _, col := range item.HeaderColumns() {
		labels = append(labels, col.Label)
	}
	assert.Equal(t, []string{
		"Title", "Identifier", "Rights Statement", "Object Type",
		"Subject", "Subject URI", "Creator", "Creator URI",
		"Date", "Language", "Handle", "Access",
	}, labels)

	headerMap := item.HeaderMap()
	assert.Equal(t, "Title", headerMap["title"])
	nested, ok := headerMap["subject"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Subject", nested["label"])
	assert.Equal(t, "Subject URI", nested["same_as"])
}

func TestParsePreservesEmbeddedIdentity(t *testing.T) {
	item := NewItem()

	values := map[string][]rdf.Object{
		"title":           {rdf.NewLiteral("A Study")},
		"subject.label":   {rdf.NewLiteral("Philosophy"), rdf.NewLiteral("Linguistics")},
		"subject.same_as": {rdf.MustURI("http://ex/phil"), rdf.MustURI("http://ex/ling")},
	}
	index := Index{"subject[0]": "#s0", "subject[1]": "#s1"}

	d, err := item.Parse(values, index)
	require.NoError(t, err)
	require.Len(t, d.Embedded["subject"], 2)
	assert.Equal(t, "#s0", d.Embedded["subject"][0].Fragment)
	assert.Equal(t, "#s1", d.Embedded["subject"][1].Fragment)

	// Rewriting a label and re-parsing with the same index keeps the
	// fragment ids stable.
	values["subject.label"][0] = rdf.NewLiteral("Philosophy of Mind")
	again, err := item.Parse(values, d.IndexEntries())
	require.NoError(t, err)
	assert.Equal(t, "#s0", again.Embedded["subject"][0].Fragment)
	assert.Equal(t, "#s1", again.Embedded["subject"][1].Fragment)
}

func TestParseMintsFreshFragments(t *testing.T) {
	item := NewItem()

	d, err := item.Parse(map[string][]rdf.Object{
		"creator.label": {rdf.NewLiteral("Ada Lovelace")},
	}, nil)
	require.NoError(t, err)
	require.Len(t, d.Embedded["creator"], 1)
	frag := d.Embedded["creator"][0].Fragment
	assert.Regexp(t, `^#[0-9a-f]{32}$`, frag)
	assert.Equal(t, Index{"creator[0]": frag}, d.IndexEntries())
}

func TestSerialize(t *testing.T) {
	item := NewItem()

	d, err := item.Parse(map[string][]rdf.Object{
		"title":         {rdf.NewLiteral("A Study")},
		"identifier":    {rdf.NewLiteral("umd:1234")},
		"subject.label": {rdf.NewLiteral("Philosophy")},
	}, Index{"subject[0]": "#s0"})
	require.NoError(t, err)
	d.URI = "http://h/rest/objects/1"

	g, err := item.Serialize(d)
	require.NoError(t, err)

	subj := rdf.MustURI("http://h/rest/objects/1")
	assert.True(t, g.HasType(subj, rdf.MustURI(rdf.NSPCDM+"Object")))
	assert.True(t, g.Has(rdf.NewTriple(subj, dctermsTitle, rdf.NewLiteral("A Study"))))

	embedded := rdf.MustURI("http://h/rest/objects/1#s0")
	assert.True(t, g.Has(rdf.NewTriple(subj, dctermsSubject, embedded)))
	assert.True(t, g.Has(rdf.NewTriple(embedded, rdfsLabel, rdf.NewLiteral("Philosophy"))))
}

func TestSerializeWithoutURIFails(t *testing.T) {
	item := NewItem()
	d, err := item.Parse(nil, nil)
	require.NoError(t, err)
	_, err = item.Serialize(d)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	m, err := Get("Item")
	require.NoError(t, err)
	assert.Equal(t, "Item", m.Name())

	_, err = Get("NoSuchModel")
	assert.Error(t, err)

	assert.Contains(t, Names(), "Item")
}
