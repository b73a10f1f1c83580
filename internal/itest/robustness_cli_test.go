//go:build integration

package itest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

const cliTimeout = 30 * time.Second

type robustCase struct {
	name            string
	args            func(t *testing.T, repoRoot string) []string
	env             map[string]string
	wantContains    []string
	wantNotContains []string
}

type cliRunResult struct {
	exitCode int
	output   string
}

func TestRobustness_ArgsValidation(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	sample := filepath.Join(t.TempDir(), "sample.mp4")
	if err := os.WriteFile(sample, []byte("x"), 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	trigger := "Six@1:10,10,40,20"

	cases := []robustCase{
		{
			name: "no args",
			args: staticArgs(),
			wantContains: []string{
				"accepts 1 arg(s), received 0",
			},
		},
		{
			name: "too many args",
			args: staticArgs(sample, "extra"),
			wantContains: []string{
				"accepts 1 arg(s), received 2",
			},
		},
		{
			name: "unknown flag",
			args: staticArgs(sample, "--wat"),
			wantContains: []string{
				"unknown flag: --wat",
			},
		},
		{
			name: "speed non float",
			args: staticArgs(sample, "--speed", "nope"),
			wantContains: []string{
				`invalid argument "nope" for "--speed"`,
			},
		},
		{
			name: "speed below one",
			args: staticArgs(sample, "--trigger", trigger, "--speed", "0.5"),
			wantContains: []string{
				"settings: scan speed must be >= 1",
			},
		},
		{
			name: "clip zero",
			args: staticArgs(sample, "--trigger", trigger, "--clip", "0"),
			wantContains: []string{
				"settings: clip duration must be > 0",
			},
		},
		{
			name: "no triggers",
			args: staticArgs(sample),
			wantContains: []string{
				"no triggers",
			},
		},
		{
			name: "trigger too small",
			args: staticArgs(sample, "--trigger", "Six@1:0,0,4,4"),
			wantContains: []string{
				"rect must be at least 10x10",
			},
		},
		{
			name: "trigger bad color",
			args: staticArgs(sample, "--trigger", "Six@1:0,0,40,40#nothex"),
			wantContains: []string{
				"invalid hex color",
			},
		},
		{
			name: "bad display",
			args: staticArgs(sample, "--trigger", trigger, "--display", "wide"),
			wantContains: []string{
				"expected WxH",
			},
		},
		{
			name: "fps zero",
			args: staticArgs(sample, "--trigger", trigger, "--fps", "0"),
			wantContains: []string{
				"config: fps must be > 0",
			},
		},
		{
			name: "bad env override",
			args: staticArgs(sample, "--trigger", trigger),
			env: map[string]string{
				"TRIGREEL_SCAN_SPEED": "fast",
			},
			wantContains: []string{
				"TRIGREEL_SCAN_SPEED",
			},
		},
	}

	runRobustCases(t, repoRoot, cases)
}

func TestRobustness_InvalidInputMedia(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	tmp := t.TempDir()
	sample := makeScoreboardFixture(t, tmp)
	notMedia := filepath.Join(tmp, "not-media.txt")
	if err := os.WriteFile(notMedia, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	trigger := "Six@1:10,10,40,20"

	cases := []robustCase{
		{
			name: "missing input path",
			args: staticArgs(filepath.Join(tmp, "does-not-exist.mp4"), "--trigger", trigger),
			wantContains: []string{
				"config: stat input:",
			},
		},
		{
			name: "input is directory",
			args: staticArgs(tmp, "--trigger", trigger),
			wantContains: []string{
				"open input: ffprobe:",
			},
		},
		{
			name: "input is non media file",
			args: staticArgs(notMedia, "--trigger", trigger),
			wantContains: []string{
				"open input: ffprobe:",
			},
		},
		{
			name: "missing triggers file",
			args: staticArgs(sample, "--triggers", filepath.Join(tmp, "nope.yaml")),
			wantContains: []string{
				"no such file or directory",
			},
		},
		{
			name: "out points to file",
			args: func(t *testing.T, _ string) []string {
				t.Helper()
				outFile := filepath.Join(t.TempDir(), "out-file")
				if err := os.WriteFile(outFile, []byte("x"), 0o644); err != nil {
					t.Fatalf("write out file fixture: %v", err)
				}
				return []string{sample, "--trigger", trigger, "--out", outFile}
			},
			wantContains: []string{
				"not a directory",
			},
		},
		{
			name: "trigger sampled past the end",
			args: staticArgs(sample, "--trigger", "Six@90:10,10,40,20"),
			wantContains: []string{
				"trigger: sample",
			},
		},
	}

	runRobustCases(t, repoRoot, cases)
}

func runRobustCases(t *testing.T, repoRoot string, cases []robustCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, repoRoot, tc.args(t, repoRoot), tc.env)
			if res.exitCode == 0 {
				t.Fatalf("expected non-zero exit code, got 0\noutput:\n%s", res.output)
			}
			for _, want := range tc.wantContains {
				if !strings.Contains(res.output, want) {
					t.Fatalf("expected output to contain %q\noutput:\n%s", want, res.output)
				}
			}
			for _, notWant := range tc.wantNotContains {
				if strings.Contains(res.output, notWant) {
					t.Fatalf("expected output to not contain %q\noutput:\n%s", notWant, res.output)
				}
			}
		})
	}
}

func runCLI(t *testing.T, repoRoot string, args []string, env map[string]string) cliRunResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	cmdArgs := append([]string{"run", "./cmd/trigreel"}, args...)
	cmd := exec.CommandContext(ctx, "go", cmdArgs...)
	cmd.Dir = repoRoot
	cmd.Env = mergeEnv(
		os.Environ(),
		map[string]string{
			"NO_COLOR": "1",
			"TERM":     "dumb",
		},
		env,
	)

	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("command timed out after %s: go %s", cliTimeout, strings.Join(cmdArgs, " "))
	}

	res := cliRunResult{output: string(out)}
	if err == nil {
		res.exitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res
	}

	t.Fatalf("run command: %v\noutput:\n%s", err, string(out))
	return cliRunResult{}
}

func mergeEnv(base []string, overrides ...map[string]string) []string {
	env := make(map[string]string, len(base))
	for _, kv := range base {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		env[kv[:i]] = kv[i+1:]
	}

	for _, set := range overrides {
		for k, v := range set {
			env[k] = v
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}

func mustRepoRoot(t *testing.T) string {
	t.Helper()

	repoRoot, err := findRepoRoot()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	return repoRoot
}

func staticArgs(args ...string) func(t *testing.T, _ string) []string {
	clone := append([]string(nil), args...)
	return func(t *testing.T, _ string) []string {
		t.Helper()
		return append([]string(nil), clone...)
	}
}
