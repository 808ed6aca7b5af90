package domain

import "time"

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WorkDir           string            `yaml:"workDir"           env:"TRANSCRIBER_WORK_DIR"`
	OutputDir         string            `yaml:"outputDir"         env:"TRANSCRIBER_OUTPUT_DIR"`
	Bucket            string            `yaml:"bucket"            env:"TRANSCRIBER_BUCKET"`
	FFmpegPath        string            `yaml:"ffmpegPath"        env:"TRANSCRIBER_FFMPEG"`
	KeepArtifacts     bool              `yaml:"keepArtifacts"     env:"TRANSCRIBER_KEEP_ARTIFACTS"`
	KeepUploads       bool              `yaml:"keepUploads"       env:"TRANSCRIBER_KEEP_UPLOADS"`
	MaxConcurrentJobs int               `yaml:"maxConcurrentJobs" env:"TRANSCRIBER_MAX_CONCURRENT_JOBS"`
	LogLevel          string            `yaml:"logLevel"          env:"LOG_LEVEL"`
	Recognition       RecognitionConfig `yaml:"recognition"       envPrefix:"TRANSCRIBER_"`
	Google            GoogleConfig      `yaml:"google"`
}

// RecognitionConfig is the fixed per-run configuration of a recognition job
// and of the synthetic progress reported while it runs.
type RecognitionConfig struct {
	SampleRateHz      int           `yaml:"sampleRateHz"      env:"SAMPLE_RATE_HZ"`
	LanguageCode      string        `yaml:"languageCode"      env:"LANGUAGE_CODE"`
	EnableWordOffsets bool          `yaml:"enableWordOffsets" env:"ENABLE_WORD_OFFSETS"`
	EnablePunctuation bool          `yaml:"enablePunctuation" env:"ENABLE_PUNCTUATION"`
	Model             string        `yaml:"model"             env:"MODEL"`
	ChunkDuration     time.Duration `yaml:"chunkDuration"     env:"CHUNK_DURATION"`
	PollInterval      time.Duration `yaml:"pollInterval"      env:"POLL_INTERVAL"`
	ProgressStep      int           `yaml:"progressStep"      env:"PROGRESS_STEP"`
	ProgressCap       int           `yaml:"progressCap"       env:"PROGRESS_CAP"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"      env:"FETCH_TIMEOUT"`
}

// GoogleConfig holds Google Cloud Speech-to-Text credentials and endpoint.
type GoogleConfig struct {
	APIKey          string `yaml:"apiKey,omitempty"          env:"GOOGLE_API_KEY"`
	CredentialsFile string `yaml:"credentialsFile,omitempty" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Endpoint        string `yaml:"endpoint"                  env:"GOOGLE_SPEECH_ENDPOINT"`
}
