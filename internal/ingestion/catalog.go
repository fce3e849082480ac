package ingestion

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// knownLaw is a catalog entry matched against a document's file name.
type knownLaw struct {
	// match lists lowercase substrings, all of which must appear in the name.
	match []string
	// name is the chunk ID prefix.
	name string
	// label is the citation label prefixed to every chunk.
	label string
	// strategy is the boundary pattern the document is drafted with.
	strategy Strategy
}

// catalog is checked in order; the first matching entry wins.
var catalog = []knownLaw{
	{match: []string{"constitution"}, name: "constitution", label: "Constitution of the Federal Republic of Nigeria 1999", strategy: StrategySection},
	{match: []string{"labour"}, name: "labour_act", label: "Labour Act", strategy: StrategySection},
	{match: []string{"labor"}, name: "labour_act", label: "Labour Act", strategy: StrategySection},
	{match: []string{"police"}, name: "police_act", label: "Police Act 2020", strategy: StrategySection},
	{match: []string{"criminal", "code"}, name: "criminal_code", label: "Criminal Code Act", strategy: StrategyNumbered},
	{match: []string{"penal"}, name: "penal_code", label: "Penal Code", strategy: StrategyNumbered},
	{match: []string{"tenancy"}, name: "tenancy_law", label: "Tenancy Law", strategy: StrategySection},
	{match: []string{"consumer"}, name: "consumer_protection", label: "Federal Competition and Consumer Protection Act", strategy: StrategySection},
	{match: []string{"cybercrime"}, name: "cybercrimes_act", label: "Cybercrimes Act", strategy: StrategySection},
}

// InferSource returns a best-effort Source for a document path. Known law
// file names get their citation label and drafting strategy; anything else
// gets a label derived from the file name and the section strategy.
func InferSource(path string) Source {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	lower := strings.ToLower(base)

	for _, law := range catalog {
		if containsAll(lower, law.match) {
			return Source{Path: path, Name: law.name, Label: law.label, Strategy: law.strategy}
		}
	}

	return Source{
		Path:     path,
		Name:     slug(lower),
		Label:    titleCase(base),
		Strategy: StrategySection,
	}
}

// ParseSources parses a comma-separated list of "path[=strategy[:label]]"
// entries. Omitted parts are inferred from the path with InferSource.
//
//	constitution.txt,laws/labour.pdf=section:Labour Act,code.txt=numbered
func ParseSources(spec string) ([]Source, error) {
	var out []Source
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		path, rest, hasRest := strings.Cut(entry, "=")
		path = strings.TrimSpace(path)
		if path == "" {
			return nil, fmt.Errorf("ingestion: source %q has no path", entry)
		}
		src := InferSource(path)
		if !hasRest {
			out = append(out, src)
			continue
		}

		strategy, label, hasLabel := strings.Cut(rest, ":")
		switch s := Strategy(strings.ToLower(strings.TrimSpace(strategy))); s {
		case "":
		case StrategySection, StrategyNumbered:
			src.Strategy = s
		default:
			return nil, fmt.Errorf("ingestion: source %q: unknown strategy %q (want section or numbered)", path, strategy)
		}
		if hasLabel && strings.TrimSpace(label) != "" {
			src.Label = strings.TrimSpace(label)
		}
		out = append(out, src)
	}
	return UniqueNames(out), nil
}

// UniqueNames returns sources with every Name distinct, so no two documents
// share chunk IDs. The first source keeps its name and later duplicates get
// "_2", "_3" and so on, skipping any suffix another source already uses. The
// input slice is not modified.
func UniqueNames(sources []Source) []Source {
	taken := make(map[string]bool, len(sources))
	for _, s := range sources {
		taken[s.Name] = false
	}
	out := make([]Source, len(sources))
	for i, s := range sources {
		if used := taken[s.Name]; used {
			for n := 2; ; n++ {
				name := fmt.Sprintf("%s_%d", s.Name, n)
				if _, exists := taken[name]; !exists {
					s.Name = name
					break
				}
			}
		}
		taken[s.Name] = true
		out[i] = s
	}
	return out
}

// containsAll reports whether s contains every substring in parts.
func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

// slug lowercases s and replaces runs of non-alphanumerics with "_".
func slug(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false
			continue
		}
		sep = true
	}
	if b.Len() == 0 {
		return "doc"
	}
	return b.String()
}

// titleCase turns "land_use-act" into "Land Use Act".
func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "Document"
	}
	return strings.Join(words, " ")
}
