// Package instructions renders the policy-instructions markdown document
// placed in the agent's config directory. Generation is a pure function
// of the active policy set and the known-skills set.
package instructions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenshield/agenshield/internal/commandsync"
	"github.com/agenshield/agenshield/internal/policy"
)

// commandCatalog supplies one-line descriptions for well-known commands.
var commandCatalog = map[string]string{
	"curl":  "transfer data from or to a server",
	"wget":  "non-interactive network downloader",
	"git":   "distributed version control",
	"ssh":   "remote login client",
	"scp":   "secure file copy",
	"rsync": "fast incremental file transfer",
	"brew":  "package manager for native dependencies",
	"npm":   "node package manager",
	"npx":   "run node package binaries",
	"pip":   "python package installer",
	"pip3":  "python package installer",
}

// Generate renders the markdown document for the given policy set.
// knownSkills filters skill-target patterns down to slugs that actually
// exist; now supplies the trailing generation timestamp.
func Generate(set *policy.Set, knownSkills []string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Policy Instructions\n\n")
	b.WriteString("These rules are enforced on this host. Operations outside them are denied.\n")

	writeCommands(&b, set)
	writeURLs(&b, set)
	writeFilesystem(&b, set)
	writeSkills(&b, set, knownSkills)

	fmt.Fprintf(&b, "\n---\nGenerated %s\n", now.UTC().Format(time.RFC3339))
	return b.String()
}

func enabled(set *policy.Set, target policy.Target, action policy.Action) []policy.Policy {
	return set.Filter(func(p policy.Policy) bool {
		return p.Enabled && p.Target == target && p.Action == action
	})
}

func writeCommands(b *strings.Builder, set *policy.Set) {
	allowed := enabled(set, policy.TargetCommand, policy.ActionAllow)
	denied := enabled(set, policy.TargetCommand, policy.ActionDeny)
	if len(allowed) == 0 && len(denied) == 0 {
		return
	}
	b.WriteString("\n## Commands\n")
	if len(allowed) > 0 {
		b.WriteString("\n### Allowed\n\n")
		for _, line := range commandLines(allowed) {
			b.WriteString(line + "\n")
		}
	}
	if len(denied) > 0 {
		b.WriteString("\n### Denied\n\n")
		for _, line := range commandLines(denied) {
			b.WriteString(line + "\n")
		}
	}
}

func commandLines(policies []policy.Policy) []string {
	seen := map[string]bool{}
	var lines []string
	for _, p := range policies {
		for _, pattern := range p.Patterns {
			name := commandsync.ParseCommandPattern(pattern)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			if desc, ok := commandCatalog[name]; ok {
				lines = append(lines, fmt.Sprintf("- `%s` — %s", name, desc))
			} else {
				lines = append(lines, fmt.Sprintf("- `%s`", name))
			}
		}
	}
	sort.Strings(lines)
	return lines
}

func writeURLs(b *strings.Builder, set *policy.Set) {
	allowed := enabled(set, policy.TargetURL, policy.ActionAllow)
	denied := enabled(set, policy.TargetURL, policy.ActionDeny)
	if len(allowed) == 0 && len(denied) == 0 {
		return
	}
	b.WriteString("\n## Network\n\n")
	b.WriteString("Plain HTTP is blocked; only HTTPS URLs below are reachable.\n")
	if len(allowed) > 0 {
		b.WriteString("\n### Allowed\n\n")
		for _, line := range patternLines(allowed) {
			b.WriteString(line + "\n")
		}
	}
	if len(denied) > 0 {
		b.WriteString("\n### Denied\n\n")
		for _, line := range patternLines(denied) {
			b.WriteString(line + "\n")
		}
	}
}

func patternLines(policies []policy.Policy) []string {
	seen := map[string]bool{}
	var lines []string
	for _, p := range policies {
		for _, pattern := range p.Patterns {
			if pattern == "" || seen[pattern] {
				continue
			}
			seen[pattern] = true
			lines = append(lines, fmt.Sprintf("- `%s`", pattern))
		}
	}
	sort.Strings(lines)
	return lines
}

func writeFilesystem(b *strings.Builder, set *policy.Set) {
	allowed := enabled(set, policy.TargetFilesystem, policy.ActionAllow)
	denied := enabled(set, policy.TargetFilesystem, policy.ActionDeny)
	if len(allowed) == 0 && len(denied) == 0 {
		return
	}
	b.WriteString("\n## Filesystem Access\n")
	if len(allowed) > 0 {
		b.WriteString("\n### Allowed\n\n")
		for _, p := range allowed {
			ops := operationNames(p.Operations)
			for _, pattern := range p.Patterns {
				if ops != "" {
					fmt.Fprintf(b, "- `%s` (%s)\n", pattern, ops)
				} else {
					fmt.Fprintf(b, "- `%s`\n", pattern)
				}
			}
		}
	}
	if len(denied) > 0 {
		b.WriteString("\n### Denied\n\n")
		for _, line := range patternLines(denied) {
			b.WriteString(line + "\n")
		}
	}
}

func operationNames(ops []policy.Operation) string {
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		switch op {
		case policy.OpFileRead:
			names = append(names, "read")
		case policy.OpFileWrite:
			names = append(names, "write")
		case policy.OpFileList:
			names = append(names, "list")
		}
	}
	return strings.Join(names, ", ")
}

func writeSkills(b *strings.Builder, set *policy.Set, knownSkills []string) {
	allowed := enabled(set, policy.TargetSkill, policy.ActionAllow)
	var slugs []string
	seen := map[string]bool{}
	for _, p := range allowed {
		for _, pattern := range p.Patterns {
			for _, slug := range knownSkills {
				if policy.PatternMatches(pattern, slug) && !seen[slug] {
					seen[slug] = true
					slugs = append(slugs, slug)
				}
			}
		}
	}
	if len(slugs) == 0 {
		return
	}
	sort.Strings(slugs)

	b.WriteString("\n## Skills\n\n")
	for _, slug := range slugs {
		fmt.Fprintf(b, "- `%s`\n", slug)
	}
}
