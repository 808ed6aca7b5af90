package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
)

// Normalizer converts arbitrary input media into mono 16-bit PCM WAV at a
// fixed sample rate. It prefers ffmpeg and falls back to a pure-Go decoder
// for OGG/Opus voice notes when ffmpeg is not installed.
type Normalizer struct {
	ffmpegPath string
	sampleRate int
	runner     CommandRunner
	lookPath   func(file string) (string, error)
	stat       func(name string) (os.FileInfo, error)
	mkdirAll   func(path string, perm os.FileMode) error
}

// NewNormalizer constructs the production normalizer.
func NewNormalizer(ffmpegPath string, sampleRate int) *Normalizer {
	return NewNormalizerForTests(ffmpegPath, sampleRate, ExecRunner{}, exec.LookPath)
}

// NewNormalizerForTests constructs a normalizer with injectable process dependencies.
func NewNormalizerForTests(
	ffmpegPath string,
	sampleRate int,
	runner CommandRunner,
	lookPath func(file string) (string, error),
) *Normalizer {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Normalizer{
		ffmpegPath: ffmpegPath,
		sampleRate: sampleRate,
		runner:     runner,
		lookPath:   lookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
	}
}

// SampleRate returns the target sample rate in Hz.
func (n *Normalizer) SampleRate() int {
	return n.sampleRate
}

// Normalize writes one new canonical WAV file at outPath. The input is never
// modified. The returned CommandLog is empty when ffmpeg was not used.
func (n *Normalizer) Normalize(ctx context.Context, inputPath, outPath string) (CommandLog, error) {
	if err := ctx.Err(); err != nil {
		return CommandLog{}, err
	}
	if err := n.mkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return CommandLog{}, fmt.Errorf("%w: destination %s is not writable: %w", domain.ErrConversion, outPath, err)
	}

	if _, err := n.lookPath(n.ffmpegPath); err == nil {
		return n.normalizeWithFFmpeg(ctx, inputPath, outPath)
	}

	if !IsOggOpus(inputPath) {
		return CommandLog{}, fmt.Errorf("%w: %s not found; install ffmpeg to convert %s inputs",
			domain.ErrConversion, n.ffmpegPath, strings.ToLower(filepath.Ext(inputPath)))
	}

	L_debug("media: ffmpeg unavailable, decoding OGG/Opus in-process", "file", inputPath)
	samples, err := DecodeOggOpus(inputPath, n.sampleRate)
	if err != nil {
		return CommandLog{}, fmt.Errorf("%w: %w", domain.ErrConversion, err)
	}
	if err := WriteWAV(outPath, samples, n.sampleRate); err != nil {
		return CommandLog{}, fmt.Errorf("%w: write %s: %w", domain.ErrConversion, outPath, err)
	}
	return CommandLog{}, nil
}

func (n *Normalizer) normalizeWithFFmpeg(ctx context.Context, inputPath, outPath string) (CommandLog, error) {
	args := BuildFFmpegArgs(inputPath, outPath, n.sampleRate)
	result, runErr := n.runner.Run(ctx, n.ffmpegPath, args...)
	log := CommandLog{
		Command:  n.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return log, ctx.Err()
		}
		return log, fmt.Errorf("%w: ffmpeg audio conversion failed (exit %d): %w", domain.ErrConversion, result.ExitCode, runErr)
	}

	if _, err := n.stat(outPath); err != nil {
		return log, fmt.Errorf("%w: ffmpeg completed but output file is missing: %w", domain.ErrConversion, err)
	}
	return log, nil
}

// BuildFFmpegArgs builds conversion args for mono PCM WAV output at sampleRate.
func BuildFFmpegArgs(inputPath, outPath string, sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// ArtifactName derives the normalized file name from the input name.
func ArtifactName(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "audio"
	}
	return name + "_converted.wav"
}

// IsOggOpus reports whether the path has an OGG/Opus extension.
func IsOggOpus(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".opus", ".oga":
		return true
	default:
		return false
	}
}
