package spreadsheet

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FileSpec is one filename from the FILES or ITEM_FILES column, with its
// optional label prefix and usage tags stripped off.
type FileSpec struct {
	Name  string
	Label string
	Usage []string
}

// Rootname returns the file's basename without its extension. Files
// sharing a rootname belong to the same logical page.
func (f FileSpec) Rootname() string {
	base := path.Base(f.Name)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// FileGroup is one logical page: the files that share a rootname, under a
// common label.
type FileGroup struct {
	Rootname string
	Label    string
	Files    []FileSpec
}

var usageTagPattern = regexp.MustCompile(`<([^<>]+)>`)

// parseFileSpec parses one "LABEL: filename <usage>" token.
func parseFileSpec(token string) (FileSpec, error) {
	var spec FileSpec
	for _, m := range usageTagPattern.FindAllStringSubmatch(token, -1) {
		spec.Usage = append(spec.Usage, strings.TrimSpace(m[1]))
	}
	token = strings.TrimSpace(usageTagPattern.ReplaceAllString(token, ""))

	if label, name, found := strings.Cut(token, ":"); found {
		spec.Label = strings.TrimSpace(label)
		spec.Name = strings.TrimSpace(name)
	} else {
		spec.Name = token
	}
	if spec.Name == "" {
		return spec, &MetadataError{Reason: fmt.Sprintf("empty filename in %q", token)}
	}
	return spec, nil
}

// BuildFileGroups parses a FILES cell into ordered file groups. Semicolons
// separate tokens; a token containing pipes is an explicit group, while
// single-file tokens are grouped by rootname in first-seen order. Labels
// must agree within a group and be uniformly present or absent across
// groups; unlabelled groups default to "Page 1" through "Page N".
func BuildFileGroups(value string) ([]FileGroup, error) {
	var groups []FileGroup
	byRootname := make(map[string]int)

	addToGroup := func(spec FileSpec, explicit int) error {
		if explicit >= 0 {
			groups[explicit].Files = append(groups[explicit].Files, spec)
			return nil
		}
		root := spec.Rootname()
		i, ok := byRootname[root]
		if !ok {
			groups = append(groups, FileGroup{Rootname: root})
			i = len(groups) - 1
			byRootname[root] = i
		}
		groups[i].Files = append(groups[i].Files, spec)
		return nil
	}

	for _, token := range splitGroups(value) {
		specs := ParseValueString(token)
		explicit := -1
		if len(specs) > 1 {
			// An explicit group keeps its files together regardless of
			// rootname.
			first, err := parseFileSpec(specs[0])
			if err != nil {
				return nil, err
			}
			groups = append(groups, FileGroup{Rootname: first.Rootname()})
			explicit = len(groups) - 1
		}
		for _, s := range specs {
			spec, err := parseFileSpec(s)
			if err != nil {
				return nil, err
			}
			if err := addToGroup(spec, explicit); err != nil {
				return nil, err
			}
		}
	}

	// Resolve per-group labels and enforce uniformity.
	labelled := 0
	for i := range groups {
		label := ""
		for _, spec := range groups[i].Files {
			if spec.Label == "" {
				continue
			}
			if label != "" && spec.Label != label {
				return nil, &MetadataError{Reason: fmt.Sprintf(
					"mismatched labels %q and %q for root name %q", label, spec.Label, groups[i].Rootname)}
			}
			label = spec.Label
		}
		groups[i].Label = label
		if label != "" {
			labelled++
		}
	}
	if labelled > 0 && labelled < len(groups) {
		return nil, &MetadataError{Reason: "mixed labelled and unlabelled file groups"}
	}
	if labelled == 0 {
		for i := range groups {
			groups[i].Label = fmt.Sprintf("Page %d", i+1)
		}
	}
	return groups, nil
}

// ParseItemFiles parses an ITEM_FILES cell: a flat semicolon-delimited
// list without grouping.
func ParseItemFiles(value string) ([]FileSpec, error) {
	var specs []FileSpec
	for _, token := range splitGroups(value) {
		spec, err := parseFileSpec(token)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SerializeFileGroups renders groups back into FILES-column form, keeping
// rootname grouping and labels.
func SerializeFileGroups(groups []FileGroup) string {
	var tokens []string
	for _, g := range groups {
		for _, spec := range g.Files {
			token := spec.Name
			if g.Label != "" && !strings.HasPrefix(g.Label, "Page ") {
				token = g.Label + ":" + token
			}
			for _, u := range spec.Usage {
				token += " <" + u + ">"
			}
			tokens = append(tokens, token)
		}
	}
	return strings.Join(tokens, ";")
}
