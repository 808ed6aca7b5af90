package config

import (
	"os"
	"path/filepath"
	"time"

	"transcript-pipeline/internal/domain"
)

// DefaultRecognition mirrors the long-form Google recognition setup:
// 16 kHz LINEAR16, en-US, word offsets and punctuation on, two-minute windows.
func DefaultRecognition() domain.RecognitionConfig {
	return domain.RecognitionConfig{
		SampleRateHz:      16000,
		LanguageCode:      "en-US",
		EnableWordOffsets: true,
		EnablePunctuation: true,
		Model:             "latest_long",
		ChunkDuration:     120 * time.Second,
		PollInterval:      5 * time.Second,
		ProgressStep:      5,
		ProgressCap:       95,
		FetchTimeout:      1000 * time.Second,
	}
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		WorkDir:           filepath.Join(os.TempDir(), "transcript-pipeline"),
		OutputDir:         filepath.Join(homeDir, "Documents", "Transcripts"),
		FFmpegPath:        "ffmpeg",
		MaxConcurrentJobs: 1,
		LogLevel:          "info",
		Recognition:       DefaultRecognition(),
		Google: domain.GoogleConfig{
			Endpoint: "https://speech.googleapis.com/v1p1beta1",
		},
	}
}

// DefaultPath is the settings file location under the user's home.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".transcript-pipeline", "settings.yaml")
}
