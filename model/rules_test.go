package model

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/rdf"
)

func TestValidateRequiredAndCardinality(t *testing.T) {
	item := NewItem()

	d, err := item.Parse(map[string][]rdf.Object{
		"title": {rdf.NewLiteral("A Study")},
	}, nil)
	require.NoError(t, err)

	result := item.Validate(d)
	assert.False(t, result.Ok())
	assert.False(t, result["identifier"].Passed)
	assert.Equal(t, "is required", result["identifier"].Message)
	assert.True(t, result["title"].Passed)

	d.Values["handle"] = []rdf.Object{
		rdf.NewLiteral("1903.1/327"),
		rdf.NewLiteral("1903.1/328"),
	}
	result = item.Validate(d)
	assert.Equal(t, "is not repeatable", result["handle"].Message)
}

func TestValidateFailureString(t *testing.T) {
	item := NewItem()
	d, err := item.Parse(map[string][]rdf.Object{
		"date": {rdf.NewTypedLiteral("not-a-date", rdf.EDTFDatatype)},
	}, nil)
	require.NoError(t, err)

	result := item.Validate(d)
	s := result.FailureString()
	assert.Contains(t, s, "identifier is required")
	assert.Contains(t, s, "; ")
	assert.Contains(t, s, "date ")
}

func TestEDTFRule(t *testing.T) {
	rule := EDTF()
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("1984-06")}))
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("1984~")}))
	assert.Error(t, rule([]rdf.Object{rdf.NewLiteral("June 1984")}))
}

func TestLanguageRule(t *testing.T) {
	rule := Language()
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("en")}))
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("ja-Latn")}))
	assert.Error(t, rule([]rdf.Object{rdf.NewLiteral("not a language")}))
}

func TestHandleRule(t *testing.T) {
	rule := Handle()
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("1903.1/327")}))
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("hdl:1903.1/327")}))
	assert.Error(t, rule([]rdf.Object{rdf.NewLiteral("not-a-handle")}))
}

func TestPatternRule(t *testing.T) {
	rule := Pattern(`^umd:\d+$`)
	assert.NoError(t, rule([]rdf.Object{rdf.NewLiteral("umd:1234")}))
	assert.Error(t, rule([]rdf.Object{rdf.NewLiteral("1234")}))
}

func TestVocabRuleRefreshOnMiss(t *testing.T) {
	var fetches atomic.Int32
	var serveNewTerm atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		assert.Equal(t, "text/turtle", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/turtle")
		fmt.Fprintln(w, `<http://vocab/old> a <http://www.w3.org/2004/02/skos/core#Concept> .`)
		if serveNewTerm.Load() {
			fmt.Fprintln(w, `<http://vocab/new> a <http://www.w3.org/2004/02/skos/core#Concept> .`)
		}
	}))
	defer server.Close()

	rule := Vocab(server.URL)

	// Known term: one fetch, no refresh.
	require.NoError(t, rule([]rdf.Object{rdf.MustURI("http://vocab/old")}))
	assert.Equal(t, int32(1), fetches.Load())

	// Unknown term that the upstream now serves: exactly one refresh.
	serveNewTerm.Store(true)
	require.NoError(t, rule([]rdf.Object{rdf.MustURI("http://vocab/new")}))
	assert.Equal(t, int32(2), fetches.Load())

	// Term missing even after refresh: fails, with one more fetch.
	err := rule([]rdf.Object{rdf.MustURI("http://vocab/never")})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not in vocabulary")
	assert.Equal(t, int32(3), fetches.Load())
}

func TestVocabularyCachePersistence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/turtle")
		fmt.Fprintln(w, `<http://vocab/term> a <http://www.w3.org/2004/02/skos/core#Concept> .`)
	}))
	dbPath := filepath.Join(t.TempDir(), "vocab.db")

	first := NewVocabularyCache()
	require.NoError(t, first.Persist(dbPath))
	ok, err := first.Contains(server.URL, "http://vocab/term")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, first.Close())

	// The upstream is gone; the persisted copy still answers.
	vocabURI := server.URL
	server.Close()

	second := NewVocabularyCache()
	require.NoError(t, second.Persist(dbPath))
	defer second.Close()
	ok, err = second.Contains(vocabURI, "http://vocab/term")
	require.NoError(t, err)
	assert.True(t, ok)
}
