package build

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"buildgate/internal/errors"
	"buildgate/internal/slogutil"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExpand(t *testing.T) {
	target := Target{
		SourceDir: "/out/main/source",
		OutputDir: "/out/main/compiled",
		BuildDir:  "/out/main/build",
		RefName:   "main",
		FilePath:  "highcharts.src.js",
	}

	got := Expand([]string{"tsc", "-p", "{source}/ts", "--outDir={output}", "{ref}:{file}", "{build}"}, target)
	want := []string{"tsc", "-p", "/out/main/source/ts", "--outDir=/out/main/compiled", "main:highcharts.src.js", "/out/main/build"}

	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Expand() = %v, want %v", got, want)
	}
}

func TestCommandStep_Run(t *testing.T) {
	requireShell(t)
	logger := slogutil.NewDiscardLogger()

	t.Run("success writes output", func(t *testing.T) {
		root := t.TempDir()
		target := Target{
			SourceDir: root,
			OutputDir: filepath.Join(root, "compiled"),
			RefName:   "main",
			FilePath:  "app.js",
		}
		step := NewCommandStep("compile", []string{"sh", "-c", "echo built > {output}/{file}"}, logger)

		if err := step.Compile(context.Background(), target); err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		data, err := os.ReadFile(filepath.Join(target.OutputDir, "app.js"))
		if err != nil {
			t.Fatalf("output missing: %v", err)
		}
		if strings.TrimSpace(string(data)) != "built" {
			t.Errorf("output = %q, want built", data)
		}
	})

	t.Run("failure is BuildFailure", func(t *testing.T) {
		root := t.TempDir()
		step := NewCommandStep("assemble", []string{"sh", "-c", "echo broken >&2; exit 3"}, logger)

		err := step.Assemble(context.Background(), Target{SourceDir: root, OutputDir: filepath.Join(root, "out")})
		if !errors.HasCode(err, errors.BuildFailure) {
			t.Fatalf("Assemble() error = %v, want %v", err, errors.BuildFailure)
		}
		details := err.(*errors.GatewayError).Details.(map[string]interface{})
		if details["exitCode"] != 3 {
			t.Errorf("exitCode = %v, want 3", details["exitCode"])
		}
		if details["stderr"] != "broken" {
			t.Errorf("stderr = %q, want broken", details["stderr"])
		}
	})

	t.Run("empty command", func(t *testing.T) {
		step := NewCommandStep("compile", nil, logger)
		if err := step.Run(context.Background(), Target{OutputDir: t.TempDir()}); !errors.HasCode(err, errors.BuildFailure) {
			t.Errorf("Run() error = %v, want %v", err, errors.BuildFailure)
		}
	})
}

type failingAssembler struct{ err error }

func (f failingAssembler) Assemble(context.Context, Target) error { return f.err }

func TestPlaceholderAssembler(t *testing.T) {
	out := t.TempDir()
	cause := errors.New(errors.BuildFailure, "gulp failed", nil)
	p := &PlaceholderAssembler{Next: failingAssembler{err: cause}, Logger: slogutil.NewDiscardLogger()}

	target := Target{OutputDir: out, RefName: "v1.0.0", FilePath: "modules/exporting.js"}
	if err := p.Assemble(context.Background(), target); err != cause {
		t.Errorf("Assemble() error = %v, want %v", err, cause)
	}

	data, err := os.ReadFile(filepath.Join(out, "modules", "exporting.js"))
	if err != nil {
		t.Fatalf("placeholder missing: %v", err)
	}
	if !strings.Contains(string(data), "console.error") || !strings.Contains(string(data), "BUILD_FAILURE") {
		t.Errorf("placeholder = %q", data)
	}

	ok := &PlaceholderAssembler{Next: failingAssembler{}, Logger: slogutil.NewDiscardLogger()}
	okOut := t.TempDir()
	if err := ok.Assemble(context.Background(), Target{OutputDir: okOut, FilePath: "a.js"}); err != nil {
		t.Errorf("Assemble() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(okOut, "a.js")); !os.IsNotExist(err) {
		t.Error("placeholder written on success")
	}
}

func TestPlaceholderContent(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"a.js", "console.error"},
		{"a.css", "/* Build of a.css"},
		{"a.map", "Build of a.map at main failed"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := PlaceholderContent(Target{RefName: "main", FilePath: tt.file}, nil)
			if !strings.Contains(got, tt.want) {
				t.Errorf("PlaceholderContent(%s) = %q, want substring %q", tt.file, got, tt.want)
			}
		})
	}
}
