package deps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wheelsmith/internal/core"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conda-requirements.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseManifest(t *testing.T) {
	path := writeManifest(t, `
# build deps
gsl=2.7
hdf5>=1.10   # needed by the extension
numpy

numpy        # identical duplicate is fine
`)

	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if len(m.Specs) != 3 {
		t.Fatalf("got %d specs, want 3: %+v", len(m.Specs), m.Specs)
	}
	if m.Specs[0].Name != "gsl" || m.Specs[0].Version != "=2.7" {
		t.Errorf("spec 0 = %+v", m.Specs[0])
	}
	if m.Specs[1].Name != "hdf5" || m.Specs[1].Version != ">=1.10" {
		t.Errorf("spec 1 = %+v", m.Specs[1])
	}
	if m.Specs[2].Name != "numpy" || m.Specs[2].Version != "" {
		t.Errorf("spec 2 = %+v", m.Specs[2])
	}
}

func TestParseManifestRejectsConflictingPins(t *testing.T) {
	path := writeManifest(t, "numpy=1.16\nnumpy=1.17\n")

	_, err := ParseManifest(path)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	kind, ok := core.ErrorKind(err)
	if !ok || kind != core.KindDependencyInstall {
		t.Errorf("expected DependencyInstallError, got %v", err)
	}
}

// fakeChannels records channel invocation order.
type fakeChannels struct {
	order []string

	prefix      string
	prefixErr   error
	systemErr   error
	languageErr error
}

func (f *fakeChannels) Install(ctx context.Context, env *core.EnvironmentConfig, manifestPath string, force bool) (string, error) {
	f.order = append(f.order, "system")
	if !force {
		return "", errors.New("force-reinstall flag lost")
	}
	return "system install ok\n", f.systemErr
}

func (f *fakeChannels) InterpreterPrefix(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return f.prefix, f.prefixErr
}

func (f *fakeChannels) InstallPackages(ctx context.Context, env *core.EnvironmentConfig, packages []string) (string, error) {
	f.order = append(f.order, "language")
	return "language install ok\n", f.languageErr
}

// languageAdapter lets fakeChannels satisfy LanguageInstaller without
// clashing with the SystemInstaller method set.
type languageAdapter struct{ f *fakeChannels }

func (a languageAdapter) Install(ctx context.Context, env *core.EnvironmentConfig, packages []string) (string, error) {
	return a.f.InstallPackages(ctx, env, packages)
}

func installerConfig(t *testing.T, manifest string) (*core.Config, *core.EnvironmentConfig) {
	t.Helper()
	cfg := &core.Config{
		Project:     "demo",
		Interpreter: "/opt/conda/bin/python",
		Dependencies: core.DependencyConfig{
			SystemManifest:   manifest,
			LanguagePackages: []string{"nose", "wheel"},
		},
	}
	env := &core.EnvironmentConfig{Interpreter: cfg.Interpreter}
	return cfg, env
}

func TestInstallOrdersSystemBeforeLanguage(t *testing.T) {
	manifest := writeManifest(t, "gsl=2.7\n")
	fake := &fakeChannels{prefix: "/opt/conda"}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, manifest)

	out, err := inst.Install(context.Background(), cfg, env)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(fake.order) != 2 || fake.order[0] != "system" || fake.order[1] != "language" {
		t.Errorf("channel order = %v, want [system language]", fake.order)
	}
	if out == "" {
		t.Error("expected combined transcript")
	}
}

func TestInstallEmptySystemChannelStillOrdersCorrectly(t *testing.T) {
	fake := &fakeChannels{}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, "")
	cfg.Dependencies.SystemManifest = ""

	if _, err := inst.Install(context.Background(), cfg, env); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(fake.order) != 1 || fake.order[0] != "language" {
		t.Errorf("channel order = %v, want [language]", fake.order)
	}
}

func TestInstallSystemFailureStopsLanguageChannel(t *testing.T) {
	manifest := writeManifest(t, "gsl=2.7\n")
	fake := &fakeChannels{prefix: "/opt/conda", systemErr: errors.New("solver failed")}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, manifest)

	_, err := inst.Install(context.Background(), cfg, env)
	if err == nil {
		t.Fatal("expected system channel failure")
	}
	kind, ok := core.ErrorKind(err)
	if !ok || kind != core.KindDependencyInstall {
		t.Errorf("expected DependencyInstallError, got %v", err)
	}
	for _, call := range fake.order {
		if call == "language" {
			t.Error("language channel ran after system failure")
		}
	}
}

func TestInstallLanguageFailureIsFatal(t *testing.T) {
	fake := &fakeChannels{languageErr: errors.New("pip exploded")}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, "")
	cfg.Dependencies.SystemManifest = ""

	_, err := inst.Install(context.Background(), cfg, env)
	kind, ok := core.ErrorKind(err)
	if !ok || kind != core.KindDependencyInstall {
		t.Errorf("expected DependencyInstallError, got %v", err)
	}
}

func TestInstallDetectsInterpreterMismatch(t *testing.T) {
	manifest := writeManifest(t, "gsl=2.7\n")
	fake := &fakeChannels{prefix: "/opt/miniconda"}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, manifest)
	env.Interpreter = "/usr/bin/python3"

	_, err := inst.Install(context.Background(), cfg, env)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	kind, ok := core.ErrorKind(err)
	if !ok || kind != core.KindDependencyInstall {
		t.Errorf("expected DependencyInstallError, got %v", err)
	}
	for _, call := range fake.order {
		if call == "system" {
			t.Error("system install ran into the wrong environment")
		}
	}
}

func TestInstallConflictAbortsBeforeAnyChannel(t *testing.T) {
	manifest := writeManifest(t, "numpy=1.16\nnumpy=1.17\n")
	fake := &fakeChannels{prefix: "/opt/conda"}
	inst := NewInstaller(fake, languageAdapter{fake}, nil)
	cfg, env := installerConfig(t, manifest)

	_, err := inst.Install(context.Background(), cfg, env)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if len(fake.order) != 0 {
		t.Errorf("channels ran despite manifest conflict: %v", fake.order)
	}
}

func TestUnderPrefix(t *testing.T) {
	cases := []struct {
		interpreter string
		prefix      string
		want        bool
	}{
		{"/opt/conda/bin/python", "/opt/conda", true},
		{"/opt/conda/python", "/opt/conda", true},
		{"/usr/bin/python3", "/opt/conda", false},
		{"/opt/condaext/bin/python", "/opt/conda", false},
	}
	for _, tc := range cases {
		if got := underPrefix(tc.interpreter, tc.prefix); got != tc.want {
			t.Errorf("underPrefix(%q, %q) = %v, want %v", tc.interpreter, tc.prefix, got, tc.want)
		}
	}
}
