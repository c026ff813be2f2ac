package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"silexa/gcc/internal/message"
)

const sampleLog = `# Log — test goal

## [09:00] Human: list containers
**OUTPUT:**
` + "```bash\nfile1\n```" + `

---

## [09:01] AI: docker ps
**OBSERVATION:** N/A

**THOUGHT:** checking containers

**OUTPUT:**
` + "```bash\nno containers\n```" + `

**INFERENCE:** empty

---

## [09:02] AI: docker ps -a
**OBSERVATION:** N/A

**THOUGHT:** double checking

**OUTPUT:**
` + "```bash\n(No output)\n```" + `

**INFERENCE:** confirmed

---
`

func TestParseLogRoundTripCountsMatchHeaders(t *testing.T) {
	msgs := ParseContent(sampleLog, 0)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages for 3 headers, got %d", len(msgs))
	}
	if msgs[0].Role != message.RoleHuman {
		t.Fatalf("expected first message Human, got %s", msgs[0].Role)
	}
	if msgs[1].Role != message.RoleAI || msgs[2].Role != message.RoleAI {
		t.Fatalf("expected AI messages for remaining entries")
	}
}

func TestParseLogOffsetIsMonotonicSuffix(t *testing.T) {
	full := ParseContent(sampleLog, 0)
	suffix := ParseContent(sampleLog, 1)

	if len(suffix) != len(full)-1 {
		t.Fatalf("expected suffix length %d, got %d", len(full)-1, len(suffix))
	}
	for i, m := range suffix {
		if m.Content != full[i+1].Content {
			t.Fatalf("suffix message %d does not match full[%d]: %q vs %q", i, i+1, m.Content, full[i+1].Content)
		}
	}
}

func TestParseLogOffsetBeyondLengthIsEmpty(t *testing.T) {
	msgs := ParseContent(sampleLog, 100)
	if msgs != nil {
		t.Fatalf("expected nil for out-of-range offset, got %v", msgs)
	}
}

func TestParseLogFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.md")
	if err := os.WriteFile(path, []byte(sampleLog), 0o644); err != nil {
		t.Fatal(err)
	}
	msgs, err := ParseLog(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}

func TestParseLogMissingFileReturnsEmpty(t *testing.T) {
	msgs, err := ParseLog(filepath.Join(t.TempDir(), "missing.md"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty, got %d", len(msgs))
	}
}

func TestSectionCountMatchesHeaderCount(t *testing.T) {
	count, err := countFromString(sampleLog)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 sections, got %d", count)
	}
}

func countFromString(content string) (int, error) {
	dir, err := os.MkdirTemp("", "ingest-test")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "log.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return SectionCount(path)
}
