// Package model is the content-model layer between the job engines and the
// RDF vocabulary. A Binding declares the typed properties of one resource
// class; the engines consume only the ContentModel interface, so new
// bindings can be registered without touching engine code.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"plastron.evalgo.org/rdf"
)

// Index maps embedded-object slots ("subject[0]") to fragment identifiers
// ("#s0"). It preserves hash-URI identity of embedded subjects across runs.
type Index map[string]string

// ContentModel is the capability surface the engines program against.
type ContentModel interface {
	// Name identifies the model in the registry.
	Name() string

	// HeaderMap returns the nested mapping from attribute name to header
	// label; embedded attributes map to their own label mapping.
	HeaderMap() map[string]interface{}

	// HeaderColumns returns the flattened columns in declaration order.
	HeaderColumns() []HeaderColumn

	// RDFTypes returns the rdf:type values stamped on new resources.
	RDFTypes() []rdf.IRI

	// Parse builds a description from typed column values keyed by dotted
	// attribute path. The index supplies fragment ids for embedded objects;
	// slots not in the index receive fresh fragments.
	Parse(values map[string][]rdf.Object, index Index) (*Description, error)

	// Serialize renders a description as an RDF graph rooted at its URI.
	Serialize(d *Description) (*rdf.Graph, error)

	// Validate runs the model's rules over a description.
	Validate(d *Description) ValidationResult
}

// HeaderColumn is one flattened spreadsheet column of a model.
type HeaderColumn struct {
	// Path is the dotted attribute path, e.g. "title" or "subject.label".
	Path string

	// Label is the spreadsheet header label.
	Label string

	// Property is the declared property the column feeds.
	Property *Property

	// Embed names the embedding attribute for columns of embedded objects,
	// empty for scalar columns.
	Embed string
}

// Property declares one typed property of a binding.
type Property struct {
	// Name is the attribute name, unique within its binding.
	Name string

	// Label is the spreadsheet header label. Unused when Embed is set; the
	// embedded binding's property labels name the columns instead.
	Label string

	// Predicate is the RDF predicate the property maps to. For embedded
	// properties it links the parent to the embedded subject.
	Predicate rdf.IRI

	// Datatype is the default literal datatype; the zero IRI means plain.
	Datatype rdf.IRI

	// URIValue marks object values as URIs rather than literals.
	URIValue bool

	Required   bool
	Repeatable bool

	// Rules are applied by Validate in order.
	Rules []Rule

	// Embed makes this property an embedded object attribute whose values
	// are descriptions of the embedded binding.
	Embed *Binding
}

// HasDatatype reports whether the property declares a default datatype.
func (p *Property) HasDatatype() bool {
	return p.Datatype.String() != ""
}

// Binding is a concrete content model: an ordered set of property
// declarations plus the rdf:type stamps of the class.
type Binding struct {
	ModelName  string
	Types      []rdf.IRI
	Properties []*Property
}

var _ ContentModel = (*Binding)(nil)

// Name implements ContentModel.
func (b *Binding) Name() string {
	return b.ModelName
}

// RDFTypes implements ContentModel.
func (b *Binding) RDFTypes() []rdf.IRI {
	out := make([]rdf.IRI, len(b.Types))
	copy(out, b.Types)
	return out
}

// Property returns the declared property with the given attribute name.
func (b *Binding) Property(name string) (*Property, bool) {
	for _, p := range b.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// HeaderMap implements ContentModel.
func (b *Binding) HeaderMap() map[string]interface{} {
	out := make(map[string]interface{}, len(b.Properties))
	for _, p := range b.Properties {
		if p.Embed != nil {
			out[p.Name] = p.Embed.HeaderMap()
			continue
		}
		out[p.Name] = p.Label
	}
	return out
}

// HeaderColumns implements ContentModel. Embedded bindings expand in place,
// their paths prefixed by the embedding attribute.
func (b *Binding) HeaderColumns() []HeaderColumn {
	var out []HeaderColumn
	for _, p := range b.Properties {
		if p.Embed != nil {
			for _, sub := range p.Embed.HeaderColumns() {
				out = append(out, HeaderColumn{
					Path:     p.Name + "." + sub.Path,
					Label:    sub.Label,
					Property: sub.Property,
					Embed:    p.Name,
				})
			}
			continue
		}
		out = append(out, HeaderColumn{Path: p.Name, Label: p.Label, Property: p})
	}
	return out
}

// Description is an in-memory resource description in a binding's shape.
// Embedded objects are descriptions of their own whose subject is the
// parent URI plus a fragment.
type Description struct {
	// URI is the resource URI; empty until the resource is located or a
	// placeholder is assigned. For embedded descriptions it stays empty and
	// Fragment carries the identity.
	URI string

	// Fragment is the "#..." identifier of an embedded description.
	Fragment string

	// Binding is the model the description conforms to.
	Binding *Binding

	// Values holds scalar attribute values by attribute name.
	Values map[string][]rdf.Object

	// Embedded holds embedded descriptions by attribute name, in slot order.
	Embedded map[string][]*Description
}

// NewFragment mints a fresh fragment identifier for an embedded object.
func NewFragment() string {
	return "#" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Parse implements ContentModel.
func (b *Binding) Parse(values map[string][]rdf.Object, index Index) (*Description, error) {
	d := &Description{
		Binding:  b,
		Values:   make(map[string][]rdf.Object),
		Embedded: make(map[string][]*Description),
	}
	for _, p := range b.Properties {
		if p.Embed == nil {
			if vals := values[p.Name]; len(vals) > 0 {
				d.Values[p.Name] = vals
			}
			continue
		}

		// Embedded: zip the sub-attribute value lists by slot position.
		subValues := make(map[string][]rdf.Object)
		count := 0
		for _, sub := range p.Embed.Properties {
			vals := values[p.Name+"."+sub.Name]
			subValues[sub.Name] = vals
			if len(vals) > count {
				count = len(vals)
			}
		}
		for i := 0; i < count; i++ {
			slot := make(map[string][]rdf.Object)
			for name, vals := range subValues {
				if i < len(vals) {
					slot[name] = vals[i : i+1]
				}
			}
			child, err := p.Embed.Parse(slot, nil)
			if err != nil {
				return nil, err
			}
			child.Fragment = index[fmt.Sprintf("%s[%d]", p.Name, i)]
			if child.Fragment == "" {
				child.Fragment = NewFragment()
			}
			d.Embedded[p.Name] = append(d.Embedded[p.Name], child)
		}
	}
	return d, nil
}

// IndexEntries returns the attribute-slot to fragment-id mapping of the
// description's embedded objects, suitable for re-serializing the INDEX
// column.
func (d *Description) IndexEntries() Index {
	out := make(Index)
	attrs := make([]string, 0, len(d.Embedded))
	for attr := range d.Embedded {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		for i, child := range d.Embedded[attr] {
			out[fmt.Sprintf("%s[%d]", attr, i)] = child.Fragment
		}
	}
	return out
}

// Serialize implements ContentModel.
func (b *Binding) Serialize(d *Description) (*rdf.Graph, error) {
	if d.URI == "" {
		return nil, fmt.Errorf("cannot serialize a description without a URI")
	}
	g := rdf.NewGraph()
	if err := b.serializeInto(g, d, d.URI); err != nil {
		return nil, err
	}
	return g, nil
}

func (b *Binding) serializeInto(g *rdf.Graph, d *Description, subjectURI string) error {
	subj, err := rdf.URI(subjectURI)
	if err != nil {
		return err
	}
	for _, t := range b.Types {
		g.Add(rdf.NewTriple(subj, rdf.RDFType, t))
	}
	for _, p := range b.Properties {
		if p.Embed != nil {
			for _, child := range d.Embedded[p.Name] {
				childURI := subjectURI + child.Fragment
				childIRI, err := rdf.URI(childURI)
				if err != nil {
					return err
				}
				g.Add(rdf.NewTriple(subj, p.Predicate, childIRI))
				if err := p.Embed.serializeInto(g, child, childURI); err != nil {
					return err
				}
			}
			continue
		}
		for _, obj := range d.Values[p.Name] {
			g.Add(rdf.NewTriple(subj, p.Predicate, obj))
		}
	}
	return nil
}
