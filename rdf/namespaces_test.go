package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNamespaceManagerBindings tests bind, lookup, and rebind
func TestNamespaceManagerBindings(t *testing.T) {
	m := NewNamespaceManager()
	m.Bind("dcterms", NSDCTerms)

	ns, ok := m.Namespace("dcterms")
	assert.True(t, ok)
	assert.Equal(t, NSDCTerms, ns)

	prefix, ok := m.Prefix(NSDCTerms)
	assert.True(t, ok)
	assert.Equal(t, "dcterms", prefix)

	_, ok = m.Namespace("missing")
	assert.False(t, ok)

	// Rebinding a prefix drops the old reverse mapping.
	m.Bind("dcterms", NSDC)
	_, ok = m.Prefix(NSDCTerms)
	assert.False(t, ok)
	prefix, ok = m.Prefix(NSDC)
	assert.True(t, ok)
	assert.Equal(t, "dcterms", prefix)
}

// TestExpandCURIE tests compact URI expansion
func TestExpandCURIE(t *testing.T) {
	m := Namespaces()

	tests := []struct {
		name    string
		curie   string
		want    string
		wantErr bool
	}{
		{name: "DCTermsTitle", curie: "dcterms:title", want: NSDCTerms + "title"},
		{name: "PCDMObject", curie: "pcdm:Object", want: NSPCDM + "Object"},
		{name: "UMDTypeEDTF", curie: "umdtype:edtf", want: NSUMDType + "edtf"},
		{name: "UnknownPrefix", curie: "nope:thing", wantErr: true},
		{name: "NotACURIE", curie: "title", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iri, err := m.ExpandCURIE(tt.curie)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, iri.String())
		})
	}
}

// TestAbbreviate tests IRI abbreviation with longest-match bindings
func TestAbbreviate(t *testing.T) {
	m := Namespaces()

	assert.Equal(t, "dcterms:title", m.Abbreviate(MustURI(NSDCTerms+"title")))
	assert.Equal(t, "pcdmuse:PreservationMasterFile", m.Abbreviate(MustURI(NSPCDMUse+"PreservationMasterFile")))

	// No binding: the full IRI comes back.
	full := "http://nowhere.example.com/x"
	assert.Equal(t, full, m.Abbreviate(MustURI(full)))
}

// TestDefaultBindings tests that the standard vocabulary set is registered
func TestDefaultBindings(t *testing.T) {
	m := Namespaces()
	for prefix, want := range map[string]string{
		"pcdm":      NSPCDM,
		"pcdmuse":   NSPCDMUse,
		"iana":      NSIana,
		"umdaccess": NSUMDAccess,
		"umdtype":   NSUMDType,
		"fedora":    NSFedora,
		"ldp":       NSLDP,
		"oa":        NSOA,
		"xsd":       NSXSD,
	} {
		ns, ok := m.Namespace(prefix)
		assert.True(t, ok, "prefix %s should be bound", prefix)
		assert.Equal(t, want, ns)
	}
}
