package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"transcript-pipeline/internal/config"
	"transcript-pipeline/internal/diagnostics"
	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
	"transcript-pipeline/internal/media"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// ffmpegInstallOptions lists package manager recipes per GOOS, tried in order.
var ffmpegInstallOptions = map[string][]installOption{
	"windows": {
		{manager: "winget", commands: [][]string{{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"}}},
		{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
		{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
	},
	"darwin": {
		{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
	},
	"linux": {
		{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "ffmpeg"}}},
		{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
		{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
		{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
		{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
	},
}

// installer runs package manager commands, escalating privileges on Linux
// when a system package manager needs it.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	runner   media.CommandRunner
	timeout  time.Duration
}

func newInstaller() *installer {
	return &installer{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		runner:   media.ExecRunner{},
		timeout:  installCommandTimeout,
	}
}

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case diagnostics.CheckFFmpeg:
		fixErr = newInstaller().installFFmpeg(ctx, settings.FFmpegPath)
	case diagnostics.CheckWorkDir:
		settings.WorkDir, settingsChanged, fixErr = installOrFixDir(settings.WorkDir, config.DefaultSettings().WorkDir)
	case diagnostics.CheckOutputDir:
		settings.OutputDir, settingsChanged, fixErr = installOrFixDir(settings.OutputDir, config.DefaultSettings().OutputDir)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(ctx, settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(ctx, settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".transcript-pipeline", "bin")
}

// installFFmpeg installs ffmpeg with the first available package manager
// and verifies the binary is on PATH afterwards.
func (in *installer) installFFmpeg(ctx context.Context, ffmpegPath string) error {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if _, err := in.lookPath(ffmpegPath); err == nil {
		return nil
	}

	if err := in.runFirstSuccessful(ctx, ffmpegInstallOptions[in.goos]); err != nil {
		return fmt.Errorf("install ffmpeg: %w", err)
	}
	if _, err := in.lookPath(ffmpegPath); err != nil {
		return fmt.Errorf("verify ffmpeg on PATH: %w", err)
	}
	L_info("bootstrap: ffmpeg installed", "os", in.goos)
	return nil
}

func (in *installer) runFirstSuccessful(ctx context.Context, options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", in.goos)
	}

	var failures []error
	for _, option := range options {
		if !in.available(option.manager) {
			continue
		}
		err := in.runAll(ctx, option.commands)
		if err == nil {
			return nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", option.manager, err))
	}

	if len(failures) == 0 {
		return fmt.Errorf("no supported package manager found for %s", in.goos)
	}
	return errors.Join(failures...)
}

func (in *installer) runAll(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := in.runWithPossibleElevation(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// runWithPossibleElevation tries the command as is, then through pkexec
// and non-interactive sudo for system package managers on Linux.
func (in *installer) runWithPossibleElevation(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if in.goos == "linux" && requiresElevation(command[0]) {
		if in.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if in.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	var attempts []error
	for _, candidate := range candidates {
		err := in.run(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attempts = append(attempts, err)
	}
	return errors.Join(attempts...)
}

func (in *installer) run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	L_debug("bootstrap: running install command", "command", formatCommand(name, args))
	result, err := in.runner.Run(ctx, name, args...)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), in.timeout)
	}

	output := strings.TrimSpace(result.Stderr)
	if output == "" {
		output = strings.TrimSpace(result.Stdout)
	}
	if len(output) > 500 {
		output = output[:500] + "..."
	}
	if output == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, output)
}

func (in *installer) available(name string) bool {
	_, err := in.lookPath(name)
	return err == nil
}

func formatCommand(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

// installOrFixDir creates dir, substituting fallback when it is empty.
// The returned flag reports whether the setting changed.
func installOrFixDir(dir, fallback string) (string, bool, error) {
	dir = strings.TrimSpace(dir)
	changed := false
	if dir == "" {
		dir = fallback
		changed = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, changed, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return dir, changed, nil
}
