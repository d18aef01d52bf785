// Package rdf provides the graph container, term constructors, namespace
// registry, and SPARQL Update construction used by the repository engines.
//
// Graphs are unordered sets of triples backed by github.com/knakk/rdf terms.
// Set semantics are keyed on the canonical N-Triples serialization of each
// triple, so two triples that render identically are the same triple.
package rdf

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Well-known namespaces bound by the default manager.
const (
	NSActivityStreams = "https://www.w3.org/ns/activitystreams#"
	NSBibo            = "http://purl.org/ontology/bibo/"
	NSCarriers        = "http://id.loc.gov/vocabulary/carriers/"
	NSDC              = "http://purl.org/dc/elements/1.1/"
	NSDCMIType        = "http://purl.org/dc/dcmitype/"
	NSDCTerms         = "http://purl.org/dc/terms/"
	NSEbucore         = "http://www.ebu.ch/metadata/ontologies/ebucore/ebucore#"
	NSEDM             = "http://www.europeana.eu/schemas/edm/"
	NSFabio           = "http://purl.org/spar/fabio/"
	NSFedora          = "http://fedora.info/definitions/v4/repository#"
	NSFOAF            = "http://xmlns.com/foaf/0.1/"
	NSGeo             = "http://www.w3.org/2003/01/geo/wgs84_pos#"
	NSIana            = "http://www.iana.org/assignments/relation/"
	NSLDP             = "http://www.w3.org/ns/ldp#"
	NSOA              = "http://www.w3.org/ns/oa#"
	NSOre             = "http://www.openarchives.org/ore/terms/"
	NSOWL             = "http://www.w3.org/2002/07/owl#"
	NSPCDM            = "http://pcdm.org/models#"
	NSPCDMUse         = "http://pcdm.org/use#"
	NSPremis          = "http://www.loc.gov/premis/rdf/v1#"
	NSProv            = "http://www.w3.org/ns/prov#"
	NSRDF             = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NSRDFS            = "http://www.w3.org/2000/01/rdf-schema#"
	NSSC              = "http://www.shared-canvas.org/ns/"
	NSSKOS            = "http://www.w3.org/2004/02/skos/core#"
	NSUMD             = "http://vocab.lib.umd.edu/model#"
	NSUMDAccess       = "http://vocab.lib.umd.edu/access#"
	NSUMDForm         = "http://vocab.lib.umd.edu/form#"
	NSUMDType         = "http://vocab.lib.umd.edu/datatype#"
	NSXSD             = "http://www.w3.org/2001/XMLSchema#"
)

// NamespaceManager maintains prefix to namespace bindings. It is safe for
// concurrent use; the process-wide manager is shared by the spreadsheet
// parser, the content models, and the serializers.
type NamespaceManager struct {
	mu       sync.RWMutex
	byPrefix map[string]string
	byNS     map[string]string
}

// NewNamespaceManager returns an empty namespace manager.
func NewNamespaceManager() *NamespaceManager {
	return &NamespaceManager{
		byPrefix: make(map[string]string),
		byNS:     make(map[string]string),
	}
}

// Bind registers a prefix for a namespace, replacing any previous binding
// for the same prefix.
func (m *NamespaceManager) Bind(prefix, namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.byPrefix[prefix]; ok {
		delete(m.byNS, old)
	}
	m.byPrefix[prefix] = namespace
	m.byNS[namespace] = prefix
}

// Namespace returns the namespace bound to the given prefix.
func (m *NamespaceManager) Namespace(prefix string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.byPrefix[prefix]
	return ns, ok
}

// Prefix returns the prefix bound to the given namespace.
func (m *NamespaceManager) Prefix(namespace string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byNS[namespace]
	return p, ok
}

// ExpandCURIE resolves a compact URI such as "dcterms:title" against the
// registered bindings.
func (m *NamespaceManager) ExpandCURIE(curie string) (IRI, error) {
	prefix, local, found := strings.Cut(curie, ":")
	if !found {
		return IRI{}, fmt.Errorf("not a CURIE: %q", curie)
	}
	m.mu.RLock()
	ns, ok := m.byPrefix[prefix]
	m.mu.RUnlock()
	if !ok {
		return IRI{}, fmt.Errorf("unknown namespace prefix: %q", prefix)
	}
	return URI(ns + local)
}

// Abbreviate renders an IRI as a compact URI when a binding covers it. The
// longest matching namespace wins. Returns the full IRI string when no
// binding matches.
func (m *NamespaceManager) Abbreviate(iri IRI) string {
	s := iri.String()
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	bestPrefix := ""
	for ns, prefix := range m.byNS {
		if strings.HasPrefix(s, ns) && len(ns) > len(best) {
			best = ns
			bestPrefix = prefix
		}
	}
	if best == "" {
		return s
	}
	return bestPrefix + ":" + s[len(best):]
}

// Bindings returns a copy of the prefix to namespace map.
func (m *NamespaceManager) Bindings() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.byPrefix))
	for p, ns := range m.byPrefix {
		out[p] = ns
	}
	return out
}

// SPARQLPrefixes renders the bindings as PREFIX declarations, sorted by
// prefix for stable output.
func (m *NamespaceManager) SPARQLPrefixes() string {
	bindings := m.Bindings()
	prefixes := make([]string, 0, len(bindings))
	for p := range bindings {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	var b strings.Builder
	for _, p := range prefixes {
		fmt.Fprintf(&b, "PREFIX %s: <%s>\n", p, bindings[p])
	}
	return b.String()
}

var (
	defaultManager     *NamespaceManager
	defaultManagerOnce sync.Once
)

// Namespaces returns the process-wide namespace manager, initialised with
// the standard bindings on first use.
func Namespaces() *NamespaceManager {
	defaultManagerOnce.Do(func() {
		m := NewNamespaceManager()
		for prefix, ns := range map[string]string{
			"activitystreams": NSActivityStreams,
			"bibo":            NSBibo,
			"carriers":        NSCarriers,
			"dc":              NSDC,
			"dcmitype":        NSDCMIType,
			"dcterms":         NSDCTerms,
			"ebucore":         NSEbucore,
			"edm":             NSEDM,
			"fabio":           NSFabio,
			"fedora":          NSFedora,
			"foaf":            NSFOAF,
			"geo":             NSGeo,
			"iana":            NSIana,
			"ldp":             NSLDP,
			"oa":              NSOA,
			"ore":             NSOre,
			"owl":             NSOWL,
			"pcdm":            NSPCDM,
			"pcdmuse":         NSPCDMUse,
			"premis":          NSPremis,
			"prov":            NSProv,
			"rdf":             NSRDF,
			"rdfs":            NSRDFS,
			"sc":              NSSC,
			"skos":            NSSKOS,
			"umd":             NSUMD,
			"umdaccess":       NSUMDAccess,
			"umdform":         NSUMDForm,
			"umdtype":         NSUMDType,
			"xsd":             NSXSD,
		} {
			m.Bind(prefix, ns)
		}
		defaultManager = m
	})
	return defaultManager
}
