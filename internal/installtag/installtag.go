// Package installtag implements the Installation Tag Injector: it
// reads/writes YAML frontmatter in a skill's SKILL.md to attach or verify
// an installation-specific tag. LoadOrCreateKeyer generates and persists
// the tag; Inject and Verify treat it as an opaque, constant-time-compared
// string.
package installtag

import (
	"bytes"
	"crypto/subtle"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// TagPrefix marks every tag element this package writes or recognizes.
const TagPrefix = "agenshield-"

// Keyer is the consumed contract for the installation-key module: Tag
// returns this installation's current opaque tag; Verify reports whether
// a candidate tag matches it, in constant time.
type Keyer interface {
	Tag() string
	Verify(candidate string) bool
}

// StaticKeyer is a fixed-tag Keyer, suitable for tests and single-tag
// deployments where key rotation is handled elsewhere.
type StaticKeyer struct {
	CurrentTag string
}

func (s StaticKeyer) Tag() string { return s.CurrentTag }

func (s StaticKeyer) Verify(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.CurrentTag)) == 1
}

// splitFrontmatter separates a leading "---\n...\n---\n" YAML block from
// the rest of doc. ok is false if doc has no frontmatter delimiters at
// its start.
func splitFrontmatter(doc string) (yamlBlock, body string, ok bool) {
	if !strings.HasPrefix(doc, "---\n") && doc != "---" {
		return "", doc, false
	}
	rest := strings.TrimPrefix(doc, "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", doc, false
	}
	yamlBlock = rest[:idx]
	after := rest[idx+len("\n---"):]
	after = strings.TrimPrefix(after, "\n")
	return yamlBlock, after, true
}

// Inject ensures doc's SKILL.md frontmatter carries keyer.Tag(): any
// existing tags beginning TagPrefix are stripped and the current tag is
// appended. If doc has no frontmatter, a minimal block is prepended. On
// YAML parse failure, doc is returned unchanged.
func Inject(doc string, keyer Keyer) string {
	yamlBlock, body, ok := splitFrontmatter(doc)
	if !ok {
		return "---\ntags:\n  - " + keyer.Tag() + "\n---\n" + doc
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return doc
	}
	if fm == nil {
		fm = map[string]any{}
	}

	var tags []string
	if raw, ok := fm["tags"]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					tags = append(tags, s)
				}
			}
		}
	}

	kept := tags[:0:0]
	for _, t := range tags {
		if !strings.HasPrefix(t, TagPrefix) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, keyer.Tag())
	fm["tags"] = kept

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return doc
	}
	enc.Close()

	return "---\n" + buf.String() + "---\n" + body
}

// Verify reports whether doc's frontmatter carries a tag element that
// keyer.Verify accepts.
func Verify(doc string, keyer Keyer) bool {
	for _, tag := range Tags(doc) {
		if keyer.Verify(tag) {
			return true
		}
	}
	return false
}

// Tags returns every string element of doc's frontmatter "tags" list, or
// nil if there is no frontmatter or it fails to parse.
func Tags(doc string) []string {
	yamlBlock, _, ok := splitFrontmatter(doc)
	if !ok {
		return nil
	}
	var fm struct {
		Tags []string `yaml:"tags"`
	}
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil
	}
	return fm.Tags
}
