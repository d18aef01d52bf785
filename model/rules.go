package model

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sfomuseum/go-edtf/parser"
	"golang.org/x/text/language"

	"plastron.evalgo.org/rdf"
)

// Rule checks the values of one property. A nil error means the rule
// passes; the error message becomes the validation failure text.
type Rule func(values []rdf.Object) error

// Result is the outcome of validating one property.
type Result struct {
	Passed  bool
	Message string
}

// ValidationResult maps property names to their validation outcome.
type ValidationResult map[string]Result

// Ok reports whether every property passed.
func (r ValidationResult) Ok() bool {
	for _, res := range r {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failures renders the failed properties as "{property} {failure}" strings,
// sorted by property name.
func (r ValidationResult) Failures() []string {
	var out []string
	for name, res := range r {
		if !res.Passed {
			out = append(out, name+" "+res.Message)
		}
	}
	sort.Strings(out)
	return out
}

// FailureString joins the failures with "; " for the dropped-items log.
func (r ValidationResult) FailureString() string {
	return strings.Join(r.Failures(), "; ")
}

// Validate implements ContentModel. Required and repeatability checks run
// before the property's declared rules; the first failure per property
// wins.
func (b *Binding) Validate(d *Description) ValidationResult {
	result := make(ValidationResult, len(b.Properties))
	for _, p := range b.Properties {
		result[p.Name] = p.validate(d)
	}
	return result
}

func (p *Property) validate(d *Description) Result {
	var count int
	var values []rdf.Object
	if p.Embed != nil {
		count = len(d.Embedded[p.Name])
	} else {
		values = d.Values[p.Name]
		count = len(values)
	}

	if p.Required && count == 0 {
		return Result{Message: "is required"}
	}
	if !p.Repeatable && count > 1 {
		return Result{Message: "is not repeatable"}
	}

	if p.Embed != nil {
		// Embedded objects validate through their own binding.
		for i, child := range d.Embedded[p.Name] {
			childResult := p.Embed.Validate(child)
			if !childResult.Ok() {
				return Result{Message: fmt.Sprintf("[%d] %s", i, childResult.FailureString())}
			}
		}
		return Result{Passed: true}
	}

	for _, rule := range p.Rules {
		if err := rule(values); err != nil {
			return Result{Message: err.Error()}
		}
	}
	return Result{Passed: true}
}

// literalValue extracts the lexical form of a term for rule checks.
func literalValue(obj rdf.Object) string {
	if lit, ok := obj.(rdf.Literal); ok {
		return lit.String()
	}
	return obj.Serialize(rdf.NTriples)
}

// Pattern returns a rule requiring every value to match the regular
// expression.
func Pattern(expr string) Rule {
	re := regexp.MustCompile(expr)
	return func(values []rdf.Object) error {
		for _, v := range values {
			if !re.MatchString(literalValue(v)) {
				return fmt.Errorf("%q does not match pattern %q", literalValue(v), expr)
			}
		}
		return nil
	}
}

// Language returns a rule requiring every value to be a well-formed
// language tag.
func Language() Rule {
	return func(values []rdf.Object) error {
		for _, v := range values {
			tag := literalValue(v)
			if _, err := language.Parse(tag); err != nil {
				return fmt.Errorf("%q is not a valid language code", tag)
			}
		}
		return nil
	}
}

// EDTF returns a rule requiring every value to be a valid Extended
// Date/Time Format string.
func EDTF() Rule {
	return func(values []rdf.Object) error {
		for _, v := range values {
			date := literalValue(v)
			if !parser.IsValid(date) {
				return fmt.Errorf("%q is not a valid EDTF date", date)
			}
		}
		return nil
	}
}

var handlePattern = regexp.MustCompile(`^(hdl:)?[0-9]+(\.[0-9]+)*/\S+$`)

// Handle returns a rule requiring every value to look like a handle
// ("1903.1/327", optionally with an "hdl:" scheme).
func Handle() Rule {
	return func(values []rdf.Object) error {
		for _, v := range values {
			h := literalValue(v)
			if !handlePattern.MatchString(h) {
				return fmt.Errorf("%q is not a valid handle", h)
			}
		}
		return nil
	}
}

// Vocab returns a rule requiring every URI value to be a subject of the
// vocabulary at vocabURI. The first miss triggers a one-time refresh of
// the cached vocabulary, so terms added upstream pass without a restart.
func Vocab(vocabURI string) Rule {
	return func(values []rdf.Object) error {
		for _, v := range values {
			term := termURI(v)
			ok, err := Vocabularies().Contains(vocabURI, term)
			if err != nil {
				return fmt.Errorf("vocabulary %s unavailable: %v", vocabURI, err)
			}
			if ok {
				continue
			}
			if err := Vocabularies().Refresh(vocabURI); err != nil {
				return fmt.Errorf("vocabulary %s unavailable: %v", vocabURI, err)
			}
			ok, err = Vocabularies().Contains(vocabURI, term)
			if err != nil {
				return fmt.Errorf("vocabulary %s unavailable: %v", vocabURI, err)
			}
			if !ok {
				return fmt.Errorf("%q is not in vocabulary %s", term, vocabURI)
			}
		}
		return nil
	}
}

func termURI(obj rdf.Object) string {
	if iri, ok := obj.(rdf.IRI); ok {
		return iri.String()
	}
	return literalValue(obj)
}
