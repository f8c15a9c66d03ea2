// Package doctor runs read-only diagnostics over the daemon's stores:
// the approved list, the marketplace cache, the on-disk skills, the
// policy set, and the brew manifest. It reports invariant violations
// without mutating anything, as an offline companion to the watcher's
// online tamper detection.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agenshield/agenshield/internal/brew"
	"github.com/agenshield/agenshield/internal/marketplace"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/reconcile"
	"github.com/agenshield/agenshield/internal/skills"
)

// Status of a single check.
const (
	StatusPass = "pass"
	StatusWarn = "warn"
	StatusFail = "fail"
)

// CheckResult is the outcome of one diagnostic check.
type CheckResult struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// Report collects every check result.
type Report struct {
	Results []CheckResult `json:"results"`
}

// Healthy reports whether no check failed.
func (r *Report) Healthy() bool {
	for _, res := range r.Results {
		if res.Status == StatusFail {
			return false
		}
	}
	return true
}

func (r *Report) add(name, status, message, remediation string) {
	r.Results = append(r.Results, CheckResult{Name: name, Status: status, Message: message, Remediation: remediation})
}

// Doctor holds the stores to cross-check.
type Doctor struct {
	SkillsDir        string
	Approved         *skills.ApprovedList
	Cache            *marketplace.Cache
	Policies         *policy.Store
	BrewManifestPath string
}

// Check runs every diagnostic and returns the report.
func (d *Doctor) Check() *Report {
	report := &Report{}
	d.checkApprovedHashes(report)
	d.checkApprovedOnDisk(report)
	d.checkSkillPolicies(report)
	d.checkBrewManifest(report)
	return report
}

// checkApprovedHashes verifies each approved entry's baseline hash
// against the deployed tree.
func (d *Doctor) checkApprovedHashes(report *Report) {
	entries, err := d.Approved.List()
	if err != nil {
		report.add("approved-list", StatusFail, fmt.Sprintf("reading approved list: %v", err), "")
		return
	}
	for _, entry := range entries {
		if entry.Hash == "" {
			report.add("skill-hash/"+entry.Name, StatusWarn,
				"approved without a baseline hash (legacy entry)",
				"reinstall the skill to record a baseline")
			continue
		}
		dir := filepath.Join(d.SkillsDir, entry.Name)
		hash, err := skills.HashTree(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue // covered by checkApprovedOnDisk
			}
			report.add("skill-hash/"+entry.Name, StatusFail, fmt.Sprintf("hashing tree: %v", err), "")
			continue
		}
		if hash != entry.Hash {
			report.add("skill-hash/"+entry.Name, StatusFail,
				"deployed files do not match the approved baseline",
				"the watcher will quarantine this skill on its next scan")
			continue
		}
		report.add("skill-hash/"+entry.Name, StatusPass, "baseline hash matches", "")
	}
}

// checkApprovedOnDisk verifies every approved slug is deployed, and
// flags deployed directories nobody approved.
func (d *Doctor) checkApprovedOnDisk(report *Report) {
	entries, err := d.Approved.List()
	if err != nil {
		return
	}
	approved := map[string]bool{}
	for _, e := range entries {
		approved[e.Name] = true
		if _, err := os.Stat(filepath.Join(d.SkillsDir, e.Name)); os.IsNotExist(err) {
			status := StatusFail
			msg := "approved but not deployed"
			remediation := "uninstall the skill or re-enable it from cache"
			if d.wasInstalled(e.Name) {
				status = StatusWarn
				msg = "approved but disabled (cache retained)"
				remediation = "re-enable the skill or remove the approved entry"
			}
			report.add("skill-deployed/"+e.Name, status, msg, remediation)
		}
	}

	dirs, err := os.ReadDir(d.SkillsDir)
	if err != nil {
		return
	}
	for _, dir := range dirs {
		if dir.IsDir() && !approved[dir.Name()] {
			report.add("skill-trusted/"+dir.Name(), StatusFail,
				"deployed but not in the approved list",
				"the watcher will quarantine this directory on its next scan")
		}
	}
}

func (d *Doctor) wasInstalled(slug string) bool {
	if d.Cache == nil {
		return false
	}
	meta, err := d.Cache.Load(slug)
	return err == nil && meta.WasInstalled != nil && *meta.WasInstalled
}

// checkSkillPolicies verifies the approved list and the skill-target
// policies agree.
func (d *Doctor) checkSkillPolicies(report *Report) {
	if d.Policies == nil {
		return
	}
	current := d.Policies.Current()
	entries, err := d.Approved.List()
	if err != nil {
		return
	}
	for _, e := range entries {
		if _, ok := current.ByID(reconcile.SkillPolicyID(e.Name)); !ok {
			report.add("skill-policy/"+e.Name, StatusFail,
				"approved skill has no allow policy",
				"re-run reconciliation or reinstall the skill")
		}
	}
	for _, p := range current.Policies {
		if p.Target != policy.TargetSkill {
			continue
		}
		for _, pattern := range p.Patterns {
			found := false
			for _, e := range entries {
				if policy.PatternMatches(pattern, e.Name) {
					found = true
				}
			}
			if !found {
				report.add("skill-policy/"+pattern, StatusWarn,
					"skill policy references a slug that is not approved",
					"remove the stale policy")
			}
		}
	}
}

// checkBrewManifest verifies the manifest's structural invariants and
// that every tracked wrapper and relocated original exists.
func (d *Doctor) checkBrewManifest(report *Report) {
	if d.BrewManifestPath == "" {
		return
	}
	manifest, err := brew.LoadManifest(d.BrewManifestPath)
	if err != nil {
		report.add("brew-manifest", StatusFail, fmt.Sprintf("reading manifest: %v", err), "")
		return
	}
	for bin, be := range manifest.Binaries {
		fe, ok := manifest.Formulas[be.Formula]
		if !ok {
			report.add("brew-binary/"+bin, StatusFail,
				fmt.Sprintf("binary references unknown formula %q", be.Formula), "")
			continue
		}
		for _, owner := range be.OwningSkills {
			if !containsString(fe.InstalledBy, owner) {
				report.add("brew-binary/"+bin, StatusFail,
					fmt.Sprintf("owner %q not recorded on formula %q", owner, be.Formula), "")
			}
		}
		if len(be.OwningSkills) > 0 {
			if _, err := os.Stat(be.WrapperPath); err != nil {
				report.add("brew-binary/"+bin, StatusFail, "wrapper missing", "reinstall the owning skill")
			}
			if _, err := os.Stat(be.OriginalPath); err != nil {
				report.add("brew-binary/"+bin, StatusFail, "relocated original missing", "reinstall the formula")
			}
		}
	}
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
