package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Pipeline contains job execution and timeline tuning.
type Pipeline struct {
	MaxConcurrentJobs      int      `toml:"max_concurrent_jobs"`
	QueueCapacity          int      `toml:"queue_capacity"`
	RecordRetries          int      `toml:"record_retries"`
	RetryBackoffMillis     int      `toml:"retry_backoff_ms"`
	SynthesisParallelism   int      `toml:"synthesis_parallelism"`
	SpeedTolerance         float64  `toml:"speed_tolerance"`
	BackgroundVolume       float64  `toml:"background_volume"`
	MaxInputMB             int64    `toml:"max_input_mb"`
	AcceptedFormats        []string `toml:"accepted_formats"`
	CleanIntermediateFiles bool     `toml:"clean_intermediate_files"`
	ExportLedger           bool     `toml:"export_ledger"`
	WorkRetentionHours     int      `toml:"work_retention_hours"`
}

// Recognition configures the speech recognition engine.
type Recognition struct {
	Engine      string `toml:"engine"`
	Model       string `toml:"model"`
	ComputeType string `toml:"compute_type"`
	VADMethod   string `toml:"vad_method"`
	CacheDir    string `toml:"cache_dir"`
}

// Translation configures the machine translation engine.
type Translation struct {
	Engine         string `toml:"engine"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BatchSize      int    `toml:"batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Synthesis configures the speech synthesis engine.
type Synthesis struct {
	Engine         string `toml:"engine"`
	ServerURL      string `toml:"server_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Diarization configures speaker diarization.
type Diarization struct {
	Engine           string `toml:"engine"`
	HuggingFaceToken string `toml:"hf_token"`
	MinSpeakers      int    `toml:"min_speakers"`
	MaxSpeakers      int    `toml:"max_speakers"`
}

// Separation configures vocal/background separation.
type Separation struct {
	Engine string `toml:"engine"`
	Model  string `toml:"model"`
}

// Gender configures speaker gender classification.
type Gender struct {
	Engine   string            `toml:"engine"`
	Speakers map[string]string `toml:"speakers"`
}

// Engines groups collaborator selection and shared runtime settings.
type Engines struct {
	Device       string      `toml:"device"`
	CacheEnabled bool        `toml:"cache_enabled"`
	Recognition  Recognition `toml:"recognition"`
	Translation  Translation `toml:"translation"`
	Synthesis    Synthesis   `toml:"synthesis"`
	Diarization  Diarization `toml:"diarization"`
	Separation   Separation  `toml:"separation"`
	Gender       Gender      `toml:"gender"`
}

// Storage configures the S3-compatible object store used for remote inputs
// and published outputs.
type Storage struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Prefix          string `toml:"prefix"`
	UsePathStyle    bool   `toml:"use_path_style"`
	PublishOutputs  bool   `toml:"publish_outputs"`
}

// Progress configures the progress broadcaster and its optional Redis relay.
type Progress struct {
	BufferSize    int    `toml:"buffer_size"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisChannel  string `toml:"redis_channel"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	JobCancelled   bool   `toml:"job_cancelled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	MaxSizeMB      int               `toml:"max_size_mb"`
	MaxBackups     int               `toml:"max_backups"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for dubline.
//
// Configuration sections by subsystem:
//   - Paths: work, output, state, and log directories plus API bind address
//   - Pipeline: worker pool size, retries, timeline tuning, input limits
//   - Engines: recognition, translation, synthesis, diarization, separation, gender
//   - Storage: S3-compatible object store for remote inputs and outputs
//   - Progress: event buffering and the optional Redis relay
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, rotation, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Engines       Engines       `toml:"engines"`
	Storage       Storage       `toml:"storage"`
	Progress      Progress      `toml:"progress"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dubline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Engines.Recognition.CacheDir) != "" {
		// Best-effort; the recognizer falls back to its own cache location.
		_ = os.MkdirAll(c.Engines.Recognition.CacheDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite database location inside the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "dubline.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "dublined.lock")
}

// FFmpegBinary returns the ffmpeg executable name used for media processing.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// RetryBackoff returns the base delay between per-record retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Pipeline.RetryBackoffMillis) * time.Millisecond
}

// MaxInputBytes returns the input size limit in bytes; zero disables the check.
func (c *Config) MaxInputBytes() int64 {
	return c.Pipeline.MaxInputMB * 1024 * 1024
}

// AcceptsFormat reports whether the file extension is an accepted input container.
func (c *Config) AcceptsFormat(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return false
	}
	for _, format := range c.Pipeline.AcceptedFormats {
		if format == ext {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir(parts ...string) string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(append([]string{base, "dubline"}, parts...)...)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/dubline/" + strings.Join(parts, "/")
	}
	return filepath.Join(append([]string{home, ".cache", "dubline"}, parts...)...)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
