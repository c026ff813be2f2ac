// Package classifier implements the Safety Classifier (spec.md §4.A): it
// loads skill definitions from a directory tree and maps a command string to
// one of {auto, approval, destructive}.
//
// Tier resolution generalizes the teacher's flat-severity policy shape
// (tools/si/paas_agent_policy_engine.go's paasRemediationPolicy/
// evaluatePaasRemediationPolicy) from a single default+override map to
// per-skill ordered glob lists.
package classifier

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tier string

const (
	TierAuto        Tier = "auto"
	TierApproval    Tier = "approval"
	TierDestructive Tier = "destructive"
)

// Skill is a named bundle of command patterns plus a tier assignment
// (spec.md §3 "Skill").
type Skill struct {
	Name        string   `yaml:"name"`
	Auto        []string `yaml:"auto"`
	Approval    []string `yaml:"approval"`
	Destructive []string `yaml:"destructive"`
}

// Classifier holds loaded skills and exposes Classify.
type Classifier struct {
	skills []Skill
}

// Load reads every skill.yaml under a directory tree rooted at path. Each
// immediate child directory is expected to contain a skill.yaml declaring
// the three pattern lists; a missing directory yields an empty, usable
// Classifier (every command then defaults to approval).
func Load(path string) (*Classifier, error) {
	c := &Classifier{}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillFile := filepath.Join(path, e.Name(), "skill.yaml")
		data, err := os.ReadFile(skillFile)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var s Skill
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		if s.Name == "" {
			s.Name = e.Name()
		}
		c.skills = append(c.skills, s)
	}
	return c, nil
}

// Skills returns the loaded skill set (used by the orchestrator's startup
// skill-documentation block, SPEC_FULL.md §12).
func (c *Classifier) Skills() []Skill { return c.skills }

// Classify returns the tier for a command and the pattern that matched, or
// (TierApproval, "") if no pattern matched or the command is empty
// (spec.md §4.A default: approval, none).
func (c *Classifier) Classify(cmd string) (Tier, string) {
	if strings.TrimSpace(cmd) == "" {
		return TierApproval, ""
	}
	for _, s := range c.skills {
		if pat, ok := firstMatch(cmd, s.Destructive); ok {
			return TierDestructive, pat
		}
	}
	for _, s := range c.skills {
		if pat, ok := firstMatch(cmd, s.Approval); ok {
			return TierApproval, pat
		}
	}
	for _, s := range c.skills {
		if pat, ok := firstMatch(cmd, s.Auto); ok {
			return TierAuto, pat
		}
	}
	return TierApproval, ""
}

// firstMatch evaluates patterns in order (first match wins within a tier,
// spec.md §3 "within a tier the first match wins") and applies the
// anti-hallucination first-token guard after any match.
func firstMatch(cmd string, patterns []string) (string, bool) {
	for _, pat := range patterns {
		if matches(cmd, pat) && firstTokenGuard(cmd, pat) {
			return pat, true
		}
	}
	return "", false
}

func matches(cmd, pattern string) bool {
	cmd = strings.TrimSpace(cmd)
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}

	// Rule 1: exact equality.
	if cmd == pattern {
		return true
	}

	// Rule 3: trailing-wildcard prefix form ("docker ps *" or "docker ps*").
	if strings.HasSuffix(pattern, "*") {
		base := strings.TrimSpace(strings.TrimSuffix(pattern, "*"))
		if base != "" && (cmd == base || strings.HasPrefix(cmd, base)) {
			return true
		}
	}

	// Rule 2: shell-style glob match on the full command.
	if ok, err := filepath.Match(pattern, cmd); err == nil && ok {
		return true
	}

	return false
}

// firstTokenGuard rejects a match unless the first whitespace-delimited
// token of the command equals the first token of the pattern, unless that
// pattern token is the literal "*" (spec.md §4.A anti-hallucination guard).
// This stops "docker-foo ps" from matching a "docker ps*" pattern.
func firstTokenGuard(cmd, pattern string) bool {
	patternFirst := firstToken(pattern)
	if patternFirst == "*" {
		return true
	}
	return firstToken(cmd) == patternFirst
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
