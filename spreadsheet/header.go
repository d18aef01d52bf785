package spreadsheet

import (
	"fmt"
	"regexp"
	"strings"

	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
)

// System headers carry bookkeeping values rather than model properties.
const (
	HeaderURI       = "URI"
	HeaderPublicURI = "PUBLIC URI"
	HeaderCreated   = "CREATED"
	HeaderModified  = "MODIFIED"
	HeaderIndex     = "INDEX"
	HeaderFiles     = "FILES"
	HeaderItemFiles = "ITEM_FILES"
	HeaderPublish   = "PUBLISH"
	HeaderHidden    = "HIDDEN"
)

var systemHeaders = map[string]bool{
	HeaderURI:       true,
	HeaderPublicURI: true,
	HeaderCreated:   true,
	HeaderModified:  true,
	HeaderIndex:     true,
	HeaderFiles:     true,
	HeaderItemFiles: true,
	HeaderPublish:   true,
	HeaderHidden:    true,
}

// namedLanguages resolves spelled-out language names in header
// decorations, e.g. "Title [English]".
var namedLanguages = map[string]string{
	"Arabic":     "ar",
	"Chinese":    "zh",
	"English":    "en",
	"French":     "fr",
	"German":     "de",
	"Hebrew":     "he",
	"Italian":    "it",
	"Japanese":   "ja",
	"Korean":     "ko",
	"Latin":      "la",
	"Portuguese": "pt",
	"Russian":    "ru",
	"Spanish":    "es",
}

// wellKnownDatatypes resolves named datatypes in header decorations.
var wellKnownDatatypes = map[string]rdf.IRI{
	"EDTF": rdf.MustURI("http://id.loc.gov/datatypes/edtf"),
	"Date": rdf.XSDDate,
}

// column is one resolved CSV column.
type column struct {
	label  string
	system bool

	path     string
	property *model.Property
	lang     string
	datatype rdf.IRI
	typed    bool
}

var headerDecoration = regexp.MustCompile(`^(.*?)(?:\s*\[([^\[\]]+)\])?(?:\s*\{([^{}]+)\})?$`)

// resolveHeader maps one raw header to a column using the model's
// flattened header columns. Unrecognised headers are a hard error for the
// spreadsheet.
func resolveHeader(raw string, columns []model.HeaderColumn) (column, error) {
	header := strings.TrimSpace(raw)
	if systemHeaders[header] {
		return column{label: header, system: true}, nil
	}

	m := headerDecoration.FindStringSubmatch(header)
	label := strings.TrimSpace(m[1])
	langTag := strings.TrimSpace(m[2])
	datatype := strings.TrimSpace(m[3])

	var match *model.HeaderColumn
	for i := range columns {
		if columns[i].Label == label {
			match = &columns[i]
			break
		}
	}
	if match == nil {
		return column{}, fmt.Errorf("unrecognized header: %q", raw)
	}

	col := column{
		label:    header,
		path:     match.Path,
		property: match.Property,
	}

	if langTag != "" {
		if code, ok := namedLanguages[langTag]; ok {
			langTag = code
		}
		col.lang = langTag
	}

	switch {
	case datatype != "":
		if dt, ok := wellKnownDatatypes[datatype]; ok {
			col.datatype = dt
		} else {
			dt, err := rdf.Namespaces().ExpandCURIE(datatype)
			if err != nil {
				return column{}, fmt.Errorf("header %q: unknown datatype %q", raw, datatype)
			}
			col.datatype = dt
		}
		col.typed = true
	case match.Property.HasDatatype():
		col.datatype = match.Property.Datatype
		col.typed = true
	}
	return col, nil
}

// cellValues converts one raw cell into typed RDF terms per the column's
// language, datatype, and URI-ness.
func (c *column) cellValues(cell string) ([]rdf.Object, error) {
	var out []rdf.Object
	for _, v := range ParseValueString(cell) {
		switch {
		case c.property.URIValue:
			iri, err := rdf.URI(v)
			if err != nil {
				return nil, &MetadataError{Reason: fmt.Sprintf("column %q: %v", c.label, err)}
			}
			out = append(out, iri)
		case c.lang != "":
			lit, err := rdf.NewLangLiteral(v, c.lang)
			if err != nil {
				return nil, &MetadataError{Reason: fmt.Sprintf("column %q: %v", c.label, err)}
			}
			out = append(out, lit)
		case c.typed:
			out = append(out, rdf.NewTypedLiteral(v, c.datatype))
		default:
			out = append(out, rdf.NewLiteral(v))
		}
	}
	return out, nil
}
