package model

import (
	"plastron.evalgo.org/rdf"
)

// Well-known predicates used by the shipped bindings.
var (
	dctermsTitle      = rdf.MustURI(rdf.NSDCTerms + "title")
	dctermsIdentifier = rdf.MustURI(rdf.NSDCTerms + "identifier")
	dctermsRights     = rdf.MustURI(rdf.NSDCTerms + "rights")
	dctermsSubject    = rdf.MustURI(rdf.NSDCTerms + "subject")
	dctermsCreator    = rdf.MustURI(rdf.NSDCTerms + "creator")
	dctermsDate       = rdf.MustURI(rdf.NSDCTerms + "date")
	dctermsLanguage   = rdf.MustURI(rdf.NSDCTerms + "language")
	edmHasType        = rdf.MustURI(rdf.NSEDM + "hasType")
	rdfsLabel         = rdf.MustURI(rdf.NSRDFS + "label")
	owlSameAs         = rdf.MustURI(rdf.NSOWL + "sameAs")
	handleDatatype    = rdf.MustURI(rdf.NSUMDType + "handle")
)

// NewLabeledThing returns the binding for embedded label+URI subjects
// (subjects, creators, and similar authority-controlled values).
func NewLabeledThing() *Binding {
	return &Binding{
		ModelName: "LabeledThing",
		Properties: []*Property{
			{
				Name:      "label",
				Label:     "Label",
				Predicate: rdfsLabel,
				Required:  true,
			},
			{
				Name:      "same_as",
				Label:     "URI",
				Predicate: owlSameAs,
				URIValue:  true,
			},
		},
	}
}

// NewItem returns the reference Item binding.
func NewItem() *Binding {
	subject := NewLabeledThing()
	subject.Properties[0].Label = "Subject"
	subject.Properties[1].Label = "Subject URI"

	creator := NewLabeledThing()
	creator.Properties[0].Label = "Creator"
	creator.Properties[1].Label = "Creator URI"

	return &Binding{
		ModelName: "Item",
		Types: []rdf.IRI{
			rdf.MustURI(rdf.NSUMD + "Item"),
			rdf.MustURI(rdf.NSPCDM + "Object"),
		},
		Properties: []*Property{
			{
				Name:       "title",
				Label:      "Title",
				Predicate:  dctermsTitle,
				Required:   true,
				Repeatable: true,
			},
			{
				Name:       "identifier",
				Label:      "Identifier",
				Predicate:  dctermsIdentifier,
				Required:   true,
				Repeatable: true,
			},
			{
				Name:      "rights",
				Label:     "Rights Statement",
				Predicate: dctermsRights,
				URIValue:  true,
				Required:  true,
			},
			{
				Name:       "object_type",
				Label:      "Object Type",
				Predicate:  edmHasType,
				URIValue:   true,
				Repeatable: true,
			},
			{
				Name:       "subject",
				Predicate:  dctermsSubject,
				Repeatable: true,
				Embed:      subject,
			},
			{
				Name:       "creator",
				Predicate:  dctermsCreator,
				Repeatable: true,
				Embed:      creator,
			},
			{
				Name:       "date",
				Label:      "Date",
				Predicate:  dctermsDate,
				Datatype:   rdf.EDTFDatatype,
				Repeatable: true,
				Rules:      []Rule{EDTF()},
			},
			{
				Name:       "language",
				Label:      "Language",
				Predicate:  dctermsLanguage,
				Repeatable: true,
				Rules:      []Rule{Language()},
			},
			{
				Name:      "handle",
				Label:     "Handle",
				Predicate: dctermsIdentifier,
				Datatype:  handleDatatype,
				Rules:     []Rule{Handle()},
			},
			{
				Name:      "access",
				Label:     "Access",
				Predicate: rdf.RDFType,
				URIValue:  true,
			},
		},
	}
}

func init() {
	Register(NewItem())
}
