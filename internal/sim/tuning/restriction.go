package tuning

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var kindPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// NormalizeKind upper-cases a material or entity name and drops the
// "minecraft:" namespace.
func NormalizeKind(s string) string {
	k := strings.ToUpper(strings.TrimSpace(s))
	return strings.TrimPrefix(k, "MINECRAFT:")
}

// RestrictionSet is either every kind or an enumerated set. Entries of the
// form "*_SUFFIX" match any kind ending in _SUFFIX.
//
// In YAML it is the scalar ALL or a sequence of names. The set is resolved
// once per load; Contains never re-parses.
type RestrictionSet struct {
	all      bool
	raw      []string
	invalid  string
	exact    map[string]struct{}
	suffixes []string
}

func AllKinds() RestrictionSet { return RestrictionSet{all: true} }

func KindsOf(names ...string) RestrictionSet {
	r := RestrictionSet{raw: append([]string(nil), names...)}
	r.resolve("", false)
	return r
}

func (r RestrictionSet) All() bool { return r.all }

func (r RestrictionSet) Contains(kind string) bool {
	if r.all {
		return true
	}
	k := NormalizeKind(kind)
	if k == "" {
		return false
	}
	if _, ok := r.exact[k]; ok {
		return true
	}
	for _, s := range r.suffixes {
		if strings.HasSuffix(k, s) {
			return true
		}
	}
	return false
}

// Names lists the resolved entries, sorted. Nil when the set is ALL.
func (r RestrictionSet) Names() []string {
	if r.all {
		return nil
	}
	out := make([]string, 0, len(r.exact)+len(r.suffixes))
	for k := range r.exact {
		out = append(out, k)
	}
	for _, s := range r.suffixes {
		out = append(out, "*"+s)
	}
	sort.Strings(out)
	return out
}

func (r *RestrictionSet) UnmarshalYAML(n *yaml.Node) error {
	*r = RestrictionSet{}
	switch n.Kind {
	case yaml.ScalarNode:
		v := strings.TrimSpace(n.Value)
		switch {
		case strings.EqualFold(v, "ALL"):
			r.all = true
		case n.Tag == "!!null" || v == "":
			r.raw = []string{}
		default:
			r.invalid = v
		}
	case yaml.SequenceNode:
		r.raw = make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				r.raw = append(r.raw, fmt.Sprintf("<%s at line %d>", item.Tag, item.Line))
				continue
			}
			r.raw = append(r.raw, item.Value)
		}
	default:
		r.invalid = fmt.Sprintf("<%s at line %d>", n.Tag, n.Line)
	}
	return nil
}

func (r RestrictionSet) MarshalYAML() (any, error) {
	if r.all {
		return "ALL", nil
	}
	return r.Names(), nil
}

// resolve builds the lookup tables from raw and reports skipped entries.
// A value that is neither ALL nor a list becomes ALL when allOnInvalid is set
// and an empty set otherwise.
func (r *RestrictionSet) resolve(field string, allOnInvalid bool) []string {
	var warns []string
	if r.invalid != "" {
		if allOnInvalid {
			warns = append(warns, fmt.Sprintf("%s: %q is neither ALL nor a list, restricting all", field, r.invalid))
			r.all = true
		} else {
			warns = append(warns, fmt.Sprintf("%s: %q is not a list, ignoring", field, r.invalid))
		}
		r.invalid = ""
	}
	if r.all {
		return warns
	}
	r.exact = make(map[string]struct{}, len(r.raw))
	r.suffixes = nil
	for _, name := range r.raw {
		k := NormalizeKind(name)
		if k == "ALL" && allOnInvalid {
			r.all = true
			return warns
		}
		if strings.HasPrefix(k, "*") {
			suffix := k[1:]
			if suffix == "" || !kindPattern.MatchString(suffix) {
				warns = append(warns, fmt.Sprintf("%s: skipping invalid entry %q", field, name))
				continue
			}
			r.suffixes = append(r.suffixes, suffix)
			continue
		}
		if !kindPattern.MatchString(k) {
			warns = append(warns, fmt.Sprintf("%s: skipping invalid entry %q", field, name))
			continue
		}
		r.exact[k] = struct{}{}
	}
	return warns
}
