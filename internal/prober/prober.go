// Package prober implements the Environment Prober (spec.md §4.B): it runs
// a fixed set of bounded-parallel probes and produces a stable environment
// fingerprint. The shell-probe shape (parallel gather, 5s hard timeout,
// Windows cwd lower-casing, stable-subset hash) is grounded verbatim on
// original_source/src/agent/env.py's run_probe/get_system_info/get_env_hash.
// The docker and kube probes enrich the shelled equivalents using the real
// SDKs, grounded on agents/shared/docker/client.go and
// agents/critic/internal/kube.go respectively.
package prober

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type ToolStatus struct {
	Context        string `json:"context,omitempty"`
	Namespace      string `json:"namespace,omitempty"`
	Status         string `json:"status,omitempty"`
	ContainerCount int    `json:"container_count,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Remote         string `json:"remote,omitempty"`
	StatusSummary  string `json:"status_summary,omitempty"`
}

type Tools struct {
	Kubectl ToolStatus `json:"kubectl"`
	Docker  ToolStatus `json:"docker"`
	Git     ToolStatus `json:"git"`
}

type Workspace struct {
	LS string `json:"ls"`
}

// Info is the Environment Prober's output record (spec.md §4.B).
type Info struct {
	OS      string    `json:"os"`
	Release string    `json:"release"`
	Shell   string     `json:"shell"`
	Cwd     string    `json:"cwd"`
	Tools   Tools     `json:"tools"`
	Workspace Workspace `json:"workspace"`
}

// Prober runs the probe set. DockerProbe/KubeProbe are optional enrichments;
// when nil, the shell-based probes alone are used.
type Prober struct {
	Timeout     time.Duration
	DockerProbe DockerProbe
	KubeProbe   KubeProbe
}

func New(timeout time.Duration) *Prober {
	return &Prober{Timeout: timeout}
}

// DockerProbe abstracts the Docker SDK enrichment (see docker.go).
type DockerProbe interface {
	Probe(ctx context.Context) ToolStatus
}

// KubeProbe abstracts the client-go enrichment (see kube.go).
type KubeProbe interface {
	Probe(ctx context.Context) ToolStatus
}

// Probe runs every probe in parallel under the prober's hard timeout and
// assembles the Info record.
func (p *Prober) Probe(ctx context.Context) Info {
	type result struct {
		key   string
		value string
	}
	keys := []string{"kubectl_context", "kubectl_ns", "docker_info", "docker_count", "git_branch", "git_remote", "git_status", "ls"}
	cmds := map[string]string{
		"kubectl_context": "kubectl config current-context",
		"kubectl_ns":      `kubectl config view --minify --output "jsonpath={..namespace}"`,
		"docker_info":     "docker info",
		"docker_count":    dockerCountCmd(),
		"git_branch":      "git rev-parse --abbrev-ref HEAD",
		"git_remote":      "git remote get-url origin",
		"git_status":      "git status --short",
		"ls":              lsCmd(),
	}

	results := make(map[string]string, len(keys))
	ch := make(chan result, len(keys))
	for _, k := range keys {
		go func(key, cmd string) {
			ch <- result{key: key, value: p.runProbe(ctx, cmd)}
		}(k, cmds[k])
	}
	for range keys {
		r := <-ch
		results[r.key] = r.value
	}

	cwd, _ := os.Getwd()
	shell := detectShell()
	info := Info{
		OS:      runtime.GOOS,
		Release: osRelease(),
		Shell:   shell,
		Cwd:     cwd,
	}
	if info.OS == "windows" {
		info.Cwd = strings.ToLower(info.Cwd)
	}

	info.Tools.Kubectl = ToolStatus{Context: results["kubectl_context"], Namespace: results["kubectl_ns"]}

	if p.KubeProbe != nil {
		kube := p.KubeProbe.Probe(ctx)
		if kube.Context != "" {
			info.Tools.Kubectl = kube
		}
	}

	if p.DockerProbe != nil {
		info.Tools.Docker = p.DockerProbe.Probe(ctx)
	} else {
		status := "not_running"
		if strings.Contains(results["docker_info"], "Containers:") {
			status = "ready"
		}
		info.Tools.Docker = ToolStatus{Status: status, ContainerCount: countLines(results["docker_count"])}
	}

	info.Tools.Git = ToolStatus{
		Branch:        results["git_branch"],
		Remote:        results["git_remote"],
		StatusSummary: results["git_status"],
	}

	ls := results["ls"]
	if len(ls) > 1000 {
		ls = ls[:1000]
	}
	info.Workspace = Workspace{LS: ls}

	return info
}

// runProbe runs cmd with a hard timeout, returning "Error: probe timed out"
// on expiry, matching original_source/src/agent/env.py's run_probe.
func (p *Prober) runProbe(ctx context.Context, cmd string) string {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := shellCommand(probeCtx, cmd)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		if probeCtx.Err() == context.DeadlineExceeded {
			return "Error: probe timed out"
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = err.Error()
		}
		return "Error: " + errText
	}
	return strings.TrimSpace(stdout.String())
}

func shellCommand(ctx context.Context, cmd string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", cmd)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
}

func dockerCountCmd() string {
	if runtime.GOOS == "windows" {
		return "docker ps -q"
	}
	return "docker ps -q | wc -l"
}

func lsCmd() string {
	if runtime.GOOS == "windows" {
		return "dir /b"
	}
	return "ls -F"
}

func countLines(s string) int {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "Error") {
		return 0
	}
	return len(strings.Split(s, "\n"))
}

func detectShell() string {
	if runtime.GOOS == "windows" {
		if os.Getenv("PSModulePath") != "" {
			return "powershell"
		}
		return "cmd"
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		return "bash"
	}
	return filepath.Base(shell)
}

func osRelease() string {
	if rel := os.Getenv("GCC_OS_RELEASE_OVERRIDE"); rel != "" {
		// test/debug override only; production paths read from the platform.
		return rel
	}
	return runtime.GOARCH
}

// stableFingerprint is the subset of fields hashed for drift detection
// (spec.md §4.B): kubectl-active (boolean, derived from absence of
// "Error" in context), git branch, shell, cwd. Transient error strings are
// excluded.
type stableFingerprint struct {
	KubectlActive bool   `json:"kubectl_active"`
	GitBranch     string `json:"git_branch"`
	Shell         string `json:"shell"`
	Cwd           string `json:"cwd"`
}

// Fingerprint computes a stable hash over Info's stable subset (spec.md
// §4.B). Running it twice with no environment change yields identical
// output; differing "Error: ..." strings (a probe timeout versus another
// failure) hash the same, because kubectl-active collapses any error
// string to false and a git branch error string is hashed as "". A
// kubectl probe that was succeeding and then errors does change it.
func Fingerprint(info Info) string {
	gitBranch := info.Tools.Git.Branch
	if strings.HasPrefix(gitBranch, "Error") {
		gitBranch = ""
	}
	fp := stableFingerprint{
		KubectlActive: !strings.Contains(info.Tools.Kubectl.Context, "Error"),
		GitBranch:     gitBranch,
		Shell:         info.Shell,
		Cwd:           info.Cwd,
	}
	// encoding/json sorts map[string]any keys on marshal, matching the
	// Python original's json.dumps(sort_keys=True).
	encoded, _ := json.Marshal(map[string]any{
		"cwd":            fp.Cwd,
		"git_branch":     fp.GitBranch,
		"kubectl_active": fp.KubectlActive,
		"shell":          fp.Shell,
	})
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
