package imports

import (
	"strings"

	"plastron.evalgo.org/rdf"
)

// Predicates and classes stamped by the import engine when assembling
// PCDM structure around an item.
var (
	pcdmObject    = rdf.MustURI(rdf.NSPCDM + "Object")
	pcdmFile      = rdf.MustURI(rdf.NSPCDM + "File")
	pcdmHasMember = rdf.MustURI(rdf.NSPCDM + "hasMember")
	pcdmMemberOf  = rdf.MustURI(rdf.NSPCDM + "memberOf")
	pcdmHasFile   = rdf.MustURI(rdf.NSPCDM + "hasFile")
	pcdmFileOf    = rdf.MustURI(rdf.NSPCDM + "fileOf")

	fabioPage = rdf.MustURI(rdf.NSFabio + "Page")

	oreProxy   = rdf.MustURI(rdf.NSOre + "Proxy")
	oreProxyFor = rdf.MustURI(rdf.NSOre + "proxyFor")
	oreProxyIn  = rdf.MustURI(rdf.NSOre + "proxyIn")

	ianaFirst = rdf.MustURI(rdf.NSIana + "first")
	ianaLast  = rdf.MustURI(rdf.NSIana + "last")
	ianaNext  = rdf.MustURI(rdf.NSIana + "next")
	ianaPrev  = rdf.MustURI(rdf.NSIana + "prev")

	oaAnnotation = rdf.MustURI(rdf.NSOA + "Annotation")
	oaHasTarget  = rdf.MustURI(rdf.NSOA + "hasTarget")
	oaBodyValue  = rdf.MustURI(rdf.NSOA + "bodyValue")

	dctermsTitle      = rdf.MustURI(rdf.NSDCTerms + "title")
	dctermsIdentifier = rdf.MustURI(rdf.NSDCTerms + "identifier")
	rdfsLabel         = rdf.MustURI(rdf.NSRDFS + "label")

	umdaccessPublished = rdf.MustURI(rdf.NSUMDAccess + "Published")
	umdaccessHidden    = rdf.MustURI(rdf.NSUMDAccess + "Hidden")

	handleDatatype = rdf.MustURI(rdf.NSUMDType + "handle")
)

// knownUsageClasses maps usage tags to PCDM use classes.
var knownUsageClasses = map[string]rdf.IRI{
	"preservation": rdf.MustURI(rdf.NSPCDMUse + "PreservationMasterFile"),
	"service":      rdf.MustURI(rdf.NSPCDMUse + "ServiceFile"),
	"original":     rdf.MustURI(rdf.NSPCDMUse + "OriginalFile"),
	"thumbnail":    rdf.MustURI(rdf.NSPCDMUse + "ThumbnailImage"),
	"text":         rdf.MustURI(rdf.NSPCDMUse + "ExtractedText"),
	"metadata":     rdf.MustURI(rdf.NSPCDMUse + "SupplementalFile"),
}

// usageClass resolves a usage tag, title-casing unknown tags into the
// pcdmuse namespace.
func usageClass(tag string) rdf.IRI {
	key := strings.ToLower(strings.TrimSpace(tag))
	if key == "" {
		return pcdmFile
	}
	if iri, ok := knownUsageClasses[key]; ok {
		return iri
	}
	name := strings.ToUpper(key[:1]) + key[1:] + "File"
	return rdf.MustURI(rdf.NSPCDMUse + name)
}
