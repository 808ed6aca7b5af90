package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"transcript-pipeline/internal/domain"
)

// fakeRunner simulates command execution outcomes.
type fakeRunner struct {
	calls int
	run   func(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.calls++
	if f.run == nil {
		return CommandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

func foundTool(name string) (string, error) { return "/usr/bin/" + name, nil }

func missingTool(string) (string, error) { return "", errors.New("executable file not found in $PATH") }

// TestNormalizeWithFFmpegSuccess checks the ffmpeg path writes the artifact.
func TestNormalizeWithFFmpegSuccess(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "lecture.m4a")
	outPath := filepath.Join(root, "run", "lecture_converted.wav")
	mustWriteFile(t, inputPath, "media")

	var gotArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			if name != "ffmpeg-custom" {
				t.Fatalf("command name = %q, want ffmpeg-custom", name)
			}
			gotArgs = append([]string{}, args...)
			mustWriteFile(t, args[len(args)-1], "wav")
			return CommandResult{Stdout: "ok"}, nil
		},
	}

	n := NewNormalizerForTests("ffmpeg-custom", 16000, runner, foundTool)
	log, err := n.Normalize(context.Background(), inputPath, outPath)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if log.Command != "ffmpeg-custom" || log.Stdout != "ok" {
		t.Fatalf("command log = %+v", log)
	}
	if argValue(gotArgs, "-ar") != "16000" || argValue(gotArgs, "-ac") != "1" {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

// TestNormalizeFFmpegFailureIsConversionError checks decode failures are classified.
func TestNormalizeFFmpegFailureIsConversionError(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "corrupt.mp3")
	mustWriteFile(t, inputPath, "not audio")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			return CommandResult{Stderr: "Invalid data found", ExitCode: 1}, errors.New("exit status 1")
		},
	}

	n := NewNormalizerForTests("ffmpeg", 16000, runner, foundTool)
	log, err := n.Normalize(context.Background(), inputPath, filepath.Join(root, "out.wav"))
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
	if log.ExitCode != 1 || log.Stderr != "Invalid data found" {
		t.Fatalf("command log = %+v", log)
	}
}

// TestNormalizeMissingOutputIsConversionError checks ffmpeg success without output.
func TestNormalizeMissingOutputIsConversionError(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.wav")
	mustWriteFile(t, inputPath, "media")

	n := NewNormalizerForTests("ffmpeg", 16000, &fakeRunner{}, foundTool)
	_, err := n.Normalize(context.Background(), inputPath, filepath.Join(root, "out.wav"))
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
}

// TestNormalizeUnwritableDestination checks destination failures are classified.
func TestNormalizeUnwritableDestination(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.wav")
	blocker := filepath.Join(root, "blocker")
	mustWriteFile(t, inputPath, "media")
	mustWriteFile(t, blocker, "file, not dir")

	runner := &fakeRunner{}
	n := NewNormalizerForTests("ffmpeg", 16000, runner, foundTool)
	_, err := n.Normalize(context.Background(), inputPath, filepath.Join(blocker, "out.wav"))
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
	if runner.calls != 0 {
		t.Fatalf("ffmpeg calls = %d, want 0", runner.calls)
	}
}

// TestNormalizeWithoutFFmpegRejectsNonOgg checks the fallback scope.
func TestNormalizeWithoutFFmpegRejectsNonOgg(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "talk.mp3")
	mustWriteFile(t, inputPath, "media")

	runner := &fakeRunner{}
	n := NewNormalizerForTests("ffmpeg", 16000, runner, missingTool)
	_, err := n.Normalize(context.Background(), inputPath, filepath.Join(root, "out.wav"))
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
	if runner.calls != 0 {
		t.Fatalf("ffmpeg calls = %d, want 0", runner.calls)
	}
}

// TestNormalizeWithoutFFmpegCorruptOgg checks the pure-Go decoder error path.
func TestNormalizeWithoutFFmpegCorruptOgg(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "voice.ogg")
	mustWriteFile(t, inputPath, "definitely not an ogg stream")

	n := NewNormalizerForTests("ffmpeg", 16000, &fakeRunner{}, missingTool)
	_, err := n.Normalize(context.Background(), inputPath, filepath.Join(root, "out.wav"))
	if !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("error = %v, want ErrConversion", err)
	}
}

// TestNormalizeLeavesInputUntouched checks the input file is not modified.
func TestNormalizeLeavesInputUntouched(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.flac")
	mustWriteFile(t, inputPath, "original-bytes")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (CommandResult, error) {
			mustWriteFile(t, args[len(args)-1], "wav")
			return CommandResult{}, nil
		},
	}
	n := NewNormalizerForTests("ffmpeg", 16000, runner, foundTool)
	if _, err := n.Normalize(context.Background(), inputPath, filepath.Join(root, "out.wav")); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	got, err := os.ReadFile(inputPath)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if !bytes.Equal(got, []byte("original-bytes")) {
		t.Fatalf("input modified: %q", got)
	}
}

// TestNormalizeCancelledContext checks no work starts after cancellation.
func TestNormalizeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{}
	n := NewNormalizerForTests("ffmpeg", 16000, runner, foundTool)
	_, err := n.Normalize(ctx, "/in.mp3", filepath.Join(t.TempDir(), "out.wav"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if runner.calls != 0 {
		t.Fatalf("ffmpeg calls = %d, want 0", runner.calls)
	}
}

// TestBuildFFmpegArgs verifies deterministic ffmpeg command arguments.
func TestBuildFFmpegArgs(t *testing.T) {
	args := BuildFFmpegArgs("/in.mp4", "/tmp/out.wav", 16000)
	want := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", "/in.mp4",
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"/tmp/out.wav",
	}

	if len(args) != len(want) {
		t.Fatalf("args len = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

// TestArtifactName checks the normalized file naming.
func TestArtifactName(t *testing.T) {
	cases := map[string]string{
		"/audio/lecture 1.m4a": "lecture 1_converted.wav",
		"talk.mp3":             "talk_converted.wav",
		"/audio/.wav":          "audio_converted.wav",
	}
	for in, want := range cases {
		if got := ArtifactName(in); got != want {
			t.Fatalf("ArtifactName(%q) = %q, want %q", in, got, want)
		}
	}
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
