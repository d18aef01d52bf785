package rdf

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Update is a parsed SPARQL Update restricted to the ground-data subset the
// engines need: INSERT DATA, DELETE DATA, DELETE WHERE, and the
// DELETE/INSERT/WHERE modify form with basic graph pattern matching.
// GRAPH clauses, property paths, filters, and subqueries are not supported.
//
// Relative IRIs (including the empty IRI <>) are resolved against a base
// URI at apply time, so one parsed update can be applied to many resources.
type Update struct {
	text       string
	operations []updateOperation
}

type updateOperation struct {
	form       updateForm
	deleteTpls []triplePattern
	insertTpls []triplePattern
	where      []triplePattern
}

type updateForm int

const (
	formInsertData updateForm = iota
	formDeleteData
	formModify
)

// patternTerm is one position of a triple pattern: a variable, a concrete
// term, or a relative IRI awaiting base resolution.
type patternTerm struct {
	variable string
	term     Term
	relative string
	isRel    bool
}

type triplePattern struct {
	subj, pred, obj patternTerm
}

// String returns the original update text.
func (u *Update) String() string {
	return u.text
}

// IsEmpty reports whether the update contains no operations.
func (u *Update) IsEmpty() bool {
	return len(u.operations) == 0
}

// ParseUpdate parses a SPARQL Update string. Prefixes declared in the text
// extend the process-wide namespace bindings.
func ParseUpdate(text string) (*Update, error) {
	tokens, err := tokenizeSPARQL(text)
	if err != nil {
		return nil, err
	}

	p := &updateParser{
		tokens:   tokens,
		prefixes: Namespaces().Bindings(),
	}

	update := &Update{text: text}
	for !p.done() {
		if p.acceptPunct(";") {
			continue
		}
		op, err := p.parseOperation()
		if err != nil {
			return nil, err
		}
		update.operations = append(update.operations, op)
	}
	return update, nil
}

// Apply executes the update against the graph, resolving relative IRIs
// against the given base URI. The graph is modified in place.
func (u *Update) Apply(g *Graph, base string) error {
	var baseURL *url.URL
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid base URI %q: %w", base, err)
		}
		baseURL = parsed
	}

	for _, op := range u.operations {
		switch op.form {
		case formInsertData:
			for _, tpl := range op.insertTpls {
				t, ok, err := instantiate(tpl, nil, baseURL)
				if err != nil {
					return err
				}
				if ok {
					g.Add(t)
				}
			}
		case formDeleteData:
			for _, tpl := range op.deleteTpls {
				t, ok, err := instantiate(tpl, nil, baseURL)
				if err != nil {
					return err
				}
				if ok {
					g.Remove(t)
				}
			}
		case formModify:
			solutions, err := matchPatterns(g, op.where, baseURL)
			if err != nil {
				return err
			}
			removals := NewGraph()
			additions := NewGraph()
			for _, binding := range solutions {
				for _, tpl := range op.deleteTpls {
					t, ok, err := instantiate(tpl, binding, baseURL)
					if err != nil {
						return err
					}
					if ok {
						removals.Add(t)
					}
				}
				for _, tpl := range op.insertTpls {
					t, ok, err := instantiate(tpl, binding, baseURL)
					if err != nil {
						return err
					}
					if ok {
						additions.Add(t)
					}
				}
			}
			for _, t := range removals.Triples() {
				g.Remove(t)
			}
			g.AddAll(additions)
		}
	}
	return nil
}

// binding maps variable names to terms.
type binding map[string]Term

// matchPatterns solves a basic graph pattern against the graph. An empty
// pattern yields the single empty solution.
func matchPatterns(g *Graph, patterns []triplePattern, base *url.URL) ([]binding, error) {
	solutions := []binding{{}}
	for _, pattern := range patterns {
		var next []binding
		for _, sol := range solutions {
			for _, t := range g.Triples() {
				extended, ok, err := unify(pattern, t, sol, base)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, extended)
				}
			}
		}
		solutions = next
		if len(solutions) == 0 {
			return nil, nil
		}
	}
	return solutions, nil
}

// unify matches one pattern against one triple under an existing binding,
// returning the extended binding on success.
func unify(pattern triplePattern, t Triple, sol binding, base *url.URL) (binding, bool, error) {
	extended := make(binding, len(sol)+3)
	for k, v := range sol {
		extended[k] = v
	}

	positions := []struct {
		pt   patternTerm
		term Term
	}{
		{pattern.subj, t.Subj},
		{pattern.pred, t.Pred},
		{pattern.obj, t.Obj},
	}

	for _, pos := range positions {
		if pos.pt.variable != "" {
			if bound, ok := extended[pos.pt.variable]; ok {
				if !TermsEqual(bound, pos.term) {
					return nil, false, nil
				}
				continue
			}
			extended[pos.pt.variable] = pos.term
			continue
		}
		want, err := resolveTerm(pos.pt, base)
		if err != nil {
			return nil, false, err
		}
		if !TermsEqual(want, pos.term) {
			return nil, false, nil
		}
	}
	return extended, true, nil
}

// instantiate builds a concrete triple from a pattern under a binding.
// Returns ok=false when a variable in the pattern is unbound, which per
// SPARQL semantics produces no triple for that solution.
func instantiate(tpl triplePattern, sol binding, base *url.URL) (Triple, bool, error) {
	terms := make([]Term, 3)
	for i, pt := range []patternTerm{tpl.subj, tpl.pred, tpl.obj} {
		if pt.variable != "" {
			bound, ok := sol[pt.variable]
			if !ok {
				return Triple{}, false, nil
			}
			terms[i] = bound
			continue
		}
		term, err := resolveTerm(pt, base)
		if err != nil {
			return Triple{}, false, err
		}
		terms[i] = term
	}

	subj, err := AsSubject(terms[0])
	if err != nil {
		return Triple{}, false, err
	}
	pred, ok := terms[1].(IRI)
	if !ok {
		return Triple{}, false, fmt.Errorf("predicate must be an IRI, got %v", terms[1])
	}
	obj, err := AsObject(terms[2])
	if err != nil {
		return Triple{}, false, err
	}
	return NewTriple(subj, pred, obj), true, nil
}

// resolveTerm turns a pattern term into a concrete term, resolving relative
// IRIs against the base.
func resolveTerm(pt patternTerm, base *url.URL) (Term, error) {
	if !pt.isRel {
		return pt.term, nil
	}
	if base == nil {
		return nil, fmt.Errorf("relative IRI <%s> with no base URI", pt.relative)
	}
	if pt.relative == "" {
		return URI(base.String())
	}
	ref, err := url.Parse(pt.relative)
	if err != nil {
		return nil, fmt.Errorf("invalid relative IRI <%s>: %w", pt.relative, err)
	}
	return URI(base.ResolveReference(ref).String())
}

// --- parser ---

type updateParser struct {
	tokens   []sparqlToken
	pos      int
	prefixes map[string]string
}

func (p *updateParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *updateParser) peek() sparqlToken {
	if p.done() {
		return sparqlToken{kind: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *updateParser) next() sparqlToken {
	t := p.peek()
	p.pos++
	return t
}

func (p *updateParser) acceptKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokWord && strings.EqualFold(t.value, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *updateParser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return fmt.Errorf("expected %s at %s", kw, p.peek())
	}
	return nil
}

func (p *updateParser) acceptPunct(ch string) bool {
	t := p.peek()
	if t.kind == tokPunct && t.value == ch {
		p.pos++
		return true
	}
	return false
}

func (p *updateParser) expectPunct(ch string) error {
	if !p.acceptPunct(ch) {
		return fmt.Errorf("expected %q at %s", ch, p.peek())
	}
	return nil
}

func (p *updateParser) parseOperation() (updateOperation, error) {
	// Leading PREFIX and BASE declarations.
	for {
		if p.acceptKeyword("PREFIX") {
			name := p.next()
			if name.kind != tokPName || name.local != "" {
				return updateOperation{}, fmt.Errorf("malformed PREFIX declaration at %s", name)
			}
			iri := p.next()
			if iri.kind != tokIRI {
				return updateOperation{}, fmt.Errorf("expected IRI in PREFIX declaration, got %s", iri)
			}
			p.prefixes[name.prefix] = iri.value
			continue
		}
		if p.acceptKeyword("BASE") {
			iri := p.next()
			if iri.kind != tokIRI {
				return updateOperation{}, fmt.Errorf("expected IRI in BASE declaration, got %s", iri)
			}
			continue
		}
		break
	}

	switch {
	case p.acceptKeyword("INSERT"):
		if p.acceptKeyword("DATA") {
			tpls, err := p.parseTripleBlock()
			if err != nil {
				return updateOperation{}, err
			}
			if err := forbidVariables(tpls, "INSERT DATA"); err != nil {
				return updateOperation{}, err
			}
			return updateOperation{form: formInsertData, insertTpls: tpls}, nil
		}
		inserts, err := p.parseTripleBlock()
		if err != nil {
			return updateOperation{}, err
		}
		if err := p.expectKeyword("WHERE"); err != nil {
			return updateOperation{}, err
		}
		where, err := p.parseTripleBlock()
		if err != nil {
			return updateOperation{}, err
		}
		return updateOperation{form: formModify, insertTpls: inserts, where: where}, nil

	case p.acceptKeyword("DELETE"):
		if p.acceptKeyword("DATA") {
			tpls, err := p.parseTripleBlock()
			if err != nil {
				return updateOperation{}, err
			}
			if err := forbidVariables(tpls, "DELETE DATA"); err != nil {
				return updateOperation{}, err
			}
			return updateOperation{form: formDeleteData, deleteTpls: tpls}, nil
		}
		if p.acceptKeyword("WHERE") {
			// DELETE WHERE { ... }: the pattern is also the template.
			where, err := p.parseTripleBlock()
			if err != nil {
				return updateOperation{}, err
			}
			return updateOperation{form: formModify, deleteTpls: where, where: where}, nil
		}
		deletes, err := p.parseTripleBlock()
		if err != nil {
			return updateOperation{}, err
		}
		op := updateOperation{form: formModify, deleteTpls: deletes}
		if p.acceptKeyword("INSERT") {
			inserts, err := p.parseTripleBlock()
			if err != nil {
				return updateOperation{}, err
			}
			op.insertTpls = inserts
		}
		if err := p.expectKeyword("WHERE"); err != nil {
			return updateOperation{}, err
		}
		where, err := p.parseTripleBlock()
		if err != nil {
			return updateOperation{}, err
		}
		op.where = where
		return op, nil

	default:
		return updateOperation{}, fmt.Errorf("unsupported update operation at %s", p.peek())
	}
}

func forbidVariables(tpls []triplePattern, form string) error {
	for _, tpl := range tpls {
		for _, pt := range []patternTerm{tpl.subj, tpl.pred, tpl.obj} {
			if pt.variable != "" {
				return fmt.Errorf("%s must not contain variables (found ?%s)", form, pt.variable)
			}
		}
	}
	return nil
}

// parseTripleBlock parses `{ s p o (, o)* (; p o)* . ... }`.
func (p *updateParser) parseTripleBlock() ([]triplePattern, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}

	var patterns []triplePattern
	for {
		if p.acceptPunct("}") {
			return patterns, nil
		}

		subj, err := p.parseTerm(false)
		if err != nil {
			return nil, err
		}

		for {
			pred, err := p.parseTerm(true)
			if err != nil {
				return nil, err
			}

			for {
				obj, err := p.parseTerm(false)
				if err != nil {
					return nil, err
				}
				patterns = append(patterns, triplePattern{subj: subj, pred: pred, obj: obj})
				if !p.acceptPunct(",") {
					break
				}
			}

			if !p.acceptPunct(";") {
				break
			}
			// A trailing ; before } or . is tolerated.
			if t := p.peek(); t.kind == tokPunct && (t.value == "}" || t.value == ".") {
				break
			}
		}

		if p.acceptPunct(".") {
			continue
		}
		if p.acceptPunct("}") {
			return patterns, nil
		}
		return nil, fmt.Errorf("expected '.' or '}' after triple, got %s", p.peek())
	}
}

// parseTerm parses one term. In predicate position the keyword `a`
// abbreviates rdf:type.
func (p *updateParser) parseTerm(predicate bool) (patternTerm, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		return patternTerm{variable: t.value}, nil
	case tokIRI:
		if isAbsoluteIRI(t.value) {
			iri, err := URI(t.value)
			if err != nil {
				return patternTerm{}, err
			}
			return patternTerm{term: iri}, nil
		}
		return patternTerm{relative: t.value, isRel: true}, nil
	case tokPName:
		ns, ok := p.prefixes[t.prefix]
		if !ok {
			return patternTerm{}, fmt.Errorf("unknown namespace prefix %q", t.prefix)
		}
		iri, err := URI(ns + t.local)
		if err != nil {
			return patternTerm{}, err
		}
		return patternTerm{term: iri}, nil
	case tokWord:
		if predicate && t.value == "a" {
			return patternTerm{term: RDFType}, nil
		}
		switch strings.ToLower(t.value) {
		case "true", "false":
			return patternTerm{term: NewTypedLiteral(strings.ToLower(t.value), MustURI(NSXSD+"boolean"))}, nil
		}
		return patternTerm{}, fmt.Errorf("unexpected token %s", t)
	case tokString:
		lit, err := p.finishLiteral(t.value)
		if err != nil {
			return patternTerm{}, err
		}
		return patternTerm{term: lit}, nil
	case tokInteger:
		return patternTerm{term: NewTypedLiteral(t.value, XSDInteger)}, nil
	case tokDecimal:
		return patternTerm{term: NewTypedLiteral(t.value, MustURI(NSXSD+"decimal"))}, nil
	default:
		return patternTerm{}, fmt.Errorf("unexpected token %s", t)
	}
}

// finishLiteral consumes an optional language tag or datatype annotation
// following a string token.
func (p *updateParser) finishLiteral(value string) (Term, error) {
	t := p.peek()
	switch t.kind {
	case tokLangTag:
		p.pos++
		return NewLangLiteral(value, t.value)
	case tokDoubleCaret:
		p.pos++
		dt := p.next()
		switch dt.kind {
		case tokIRI:
			iri, err := URI(dt.value)
			if err != nil {
				return nil, err
			}
			return NewTypedLiteral(value, iri), nil
		case tokPName:
			ns, ok := p.prefixes[dt.prefix]
			if !ok {
				return nil, fmt.Errorf("unknown namespace prefix %q", dt.prefix)
			}
			iri, err := URI(ns + dt.local)
			if err != nil {
				return nil, err
			}
			return NewTypedLiteral(value, iri), nil
		default:
			return nil, fmt.Errorf("expected datatype after ^^, got %s", dt)
		}
	default:
		return NewLiteral(value), nil
	}
}

func isAbsoluteIRI(s string) bool {
	for i, r := range s {
		if r == ':' {
			return i > 0
		}
		if r == '/' || r == '?' || r == '#' {
			return false
		}
	}
	return false
}

// --- tokenizer ---

type sparqlTokenKind int

const (
	tokEOF sparqlTokenKind = iota
	tokIRI
	tokPName
	tokVar
	tokString
	tokLangTag
	tokDoubleCaret
	tokWord
	tokInteger
	tokDecimal
	tokPunct
)

type sparqlToken struct {
	kind          sparqlTokenKind
	value         string
	prefix, local string
}

func (t sparqlToken) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokIRI:
		return fmt.Sprintf("<%s>", t.value)
	case tokPName:
		return fmt.Sprintf("%s:%s", t.prefix, t.local)
	case tokVar:
		return "?" + t.value
	case tokString:
		return fmt.Sprintf("%q", t.value)
	default:
		return fmt.Sprintf("%q", t.value)
	}
}

func tokenizeSPARQL(text string) ([]sparqlToken, error) {
	var tokens []sparqlToken
	runes := []rune(text)
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '#':
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '<':
			j := i + 1
			for j < n && runes[j] != '>' {
				if runes[j] == '\n' {
					return nil, fmt.Errorf("unterminated IRI near offset %d", i)
				}
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated IRI near offset %d", i)
			}
			tokens = append(tokens, sparqlToken{kind: tokIRI, value: string(runes[i+1 : j])})
			i = j + 1
		case r == '?' || r == '$':
			j := i + 1
			for j < n && isNameChar(runes[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty variable name at offset %d", i)
			}
			tokens = append(tokens, sparqlToken{kind: tokVar, value: string(runes[i+1 : j])})
			i = j
		case r == '"' || r == '\'':
			quote := r
			var b strings.Builder
			j := i + 1
			for {
				if j >= n {
					return nil, fmt.Errorf("unterminated string near offset %d", i)
				}
				c := runes[j]
				if c == '\\' {
					if j+1 >= n {
						return nil, fmt.Errorf("dangling escape near offset %d", j)
					}
					esc := runes[j+1]
					switch esc {
					case 't':
						b.WriteRune('\t')
					case 'n':
						b.WriteRune('\n')
					case 'r':
						b.WriteRune('\r')
					case '"', '\'', '\\':
						b.WriteRune(esc)
					default:
						return nil, fmt.Errorf("unsupported escape \\%c", esc)
					}
					j += 2
					continue
				}
				if c == quote {
					break
				}
				b.WriteRune(c)
				j++
			}
			tokens = append(tokens, sparqlToken{kind: tokString, value: b.String()})
			i = j + 1
		case r == '@':
			j := i + 1
			for j < n && (isNameChar(runes[j]) || runes[j] == '-') {
				j++
			}
			tokens = append(tokens, sparqlToken{kind: tokLangTag, value: string(runes[i+1 : j])})
			i = j
		case r == '^':
			if i+1 < n && runes[i+1] == '^' {
				tokens = append(tokens, sparqlToken{kind: tokDoubleCaret, value: "^^"})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '^' at offset %d", i)
			}
		case r == '{' || r == '}' || r == ';' || r == ',':
			tokens = append(tokens, sparqlToken{kind: tokPunct, value: string(r)})
			i++
		case r == '.':
			tokens = append(tokens, sparqlToken{kind: tokPunct, value: "."})
			i++
		case unicode.IsDigit(r) || ((r == '+' || r == '-') && i+1 < n && unicode.IsDigit(runes[i+1])):
			j := i + 1
			decimal := false
			for j < n && (unicode.IsDigit(runes[j]) || (!decimal && runes[j] == '.' && j+1 < n && unicode.IsDigit(runes[j+1]))) {
				if runes[j] == '.' {
					decimal = true
				}
				j++
			}
			kind := tokInteger
			if decimal {
				kind = tokDecimal
			}
			tokens = append(tokens, sparqlToken{kind: kind, value: string(runes[i:j])})
			i = j
		case isNameStartChar(r):
			j := i
			for j < n && (isNameChar(runes[j]) || (runes[j] == '.' && j+1 < n && isNameChar(runes[j+1]))) {
				j++
			}
			word := string(runes[i:j])
			i = j
			if i < n && runes[i] == ':' {
				// Prefixed name: word is the prefix, the local part follows.
				i++
				k := i
				for k < n && (isNameChar(runes[k]) || runes[k] == '-' || (runes[k] == '.' && k+1 < n && isNameChar(runes[k+1]))) {
					k++
				}
				tokens = append(tokens, sparqlToken{kind: tokPName, prefix: word, local: string(runes[i:k])})
				i = k
			} else {
				tokens = append(tokens, sparqlToken{kind: tokWord, value: word})
			}
		case r == ':':
			// Prefixed name with the empty prefix.
			i++
			k := i
			for k < n && (isNameChar(runes[k]) || runes[k] == '-') {
				k++
			}
			tokens = append(tokens, sparqlToken{kind: tokPName, prefix: "", local: string(runes[i:k])})
			i = k
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	return tokens, nil
}

func isNameStartChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
