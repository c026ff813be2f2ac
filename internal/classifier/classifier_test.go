package classifier

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, name, yamlBody string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
}

func dockerSkillYAML() string {
	return `
name: docker
auto:
  - "docker ps*"
  - "docker images*"
approval:
  - "docker build *"
destructive:
  - "docker rm -f *"
  - "docker system prune -a"
`
}

func TestClassifyPrecedenceDestructiveBeatsAuto(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "docker", dockerSkillYAML())
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	tier, _ := c.Classify("docker rm -f mycontainer")
	if tier != TierDestructive {
		t.Fatalf("expected destructive, got %s", tier)
	}

	tier, _ = c.Classify("echo unrelated command")
	if tier != TierApproval {
		t.Fatalf("unknown command should default to approval, got %s", tier)
	}
}

func TestClassifyAntiHallucinationGuard(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "docker", dockerSkillYAML())
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	tier, pat := c.Classify("docker-foo ps")
	if tier == TierAuto {
		t.Fatalf("docker-foo ps must not match docker ps* (got auto via pattern %q)", pat)
	}
}

func TestClassifyEmptyCommand(t *testing.T) {
	c := &Classifier{}
	tier, pat := c.Classify("   ")
	if tier != TierApproval || pat != "" {
		t.Fatalf("expected (approval, \"\"), got (%s, %q)", tier, pat)
	}
}

func TestClassifyExactAndGlobForms(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "git", `
name: git
auto:
  - "git status"
  - "git log*"
approval: []
destructive:
  - "git push --force*"
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if tier, _ := c.Classify("git status"); tier != TierAuto {
		t.Fatalf("exact match should be auto, got %s", tier)
	}
	if tier, _ := c.Classify("git log --oneline"); tier != TierAuto {
		t.Fatalf("prefix-wildcard match should be auto, got %s", tier)
	}
	if tier, _ := c.Classify("git push --force origin main"); tier != TierDestructive {
		t.Fatalf("expected destructive, got %s", tier)
	}
}

func TestLoadMissingDirectoryDefaultsEmpty(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	tier, pat := c.Classify("docker ps")
	if tier != TierApproval || pat != "" {
		t.Fatalf("expected default approval with no pattern, got (%s, %q)", tier, pat)
	}
}
