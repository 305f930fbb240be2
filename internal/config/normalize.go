package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	if err := c.normalizeEngines(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeProgress()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DUBLINE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.QueueCapacity <= 0 {
		c.Pipeline.QueueCapacity = defaultQueueCapacity
	}
	if c.Pipeline.SynthesisParallelism <= 0 {
		c.Pipeline.SynthesisParallelism = 1
	}
	if c.Pipeline.RecordRetries < 0 {
		c.Pipeline.RecordRetries = 0
	}
	formats := make([]string, 0, len(c.Pipeline.AcceptedFormats))
	seen := make(map[string]struct{}, len(c.Pipeline.AcceptedFormats))
	for _, format := range c.Pipeline.AcceptedFormats {
		normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		formats = append(formats, normalized)
	}
	if len(formats) == 0 {
		formats = append(formats, defaultAcceptedFormats...)
	}
	c.Pipeline.AcceptedFormats = formats
}

func (c *Config) normalizeEngines() error {
	e := &c.Engines
	e.Device = strings.ToLower(strings.TrimSpace(e.Device))
	if e.Device == "" {
		e.Device = defaultDevice
	}

	e.Recognition.Engine = lowerOr(e.Recognition.Engine, defaultRecognitionEngine)
	e.Recognition.Model = strings.TrimSpace(e.Recognition.Model)
	if e.Recognition.Model == "" {
		e.Recognition.Model = defaultRecognitionModel
	}
	e.Recognition.ComputeType = lowerOr(e.Recognition.ComputeType, defaultRecognitionComputeType)
	e.Recognition.VADMethod = lowerOr(e.Recognition.VADMethod, defaultVADMethod)
	if strings.TrimSpace(e.Recognition.CacheDir) == "" {
		e.Recognition.CacheDir = defaultCacheDir("whisperx")
	}
	var err error
	if e.Recognition.CacheDir, err = expandPath(e.Recognition.CacheDir); err != nil {
		return fmt.Errorf("engines.recognition.cache_dir: %w", err)
	}

	e.Translation.Engine = lowerOr(e.Translation.Engine, defaultTranslationEngine)
	e.Translation.BaseURL = strings.TrimSpace(e.Translation.BaseURL)
	if e.Translation.BaseURL == "" {
		e.Translation.BaseURL = defaultTranslationBaseURL
	}
	e.Translation.Model = strings.TrimSpace(e.Translation.Model)
	if e.Translation.Model == "" {
		e.Translation.Model = defaultTranslationModel
	}
	e.Translation.APIKey = strings.TrimSpace(e.Translation.APIKey)
	if e.Translation.APIKey == "" {
		e.Translation.APIKey = firstEnv("DUBLINE_TRANSLATION_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY")
	}
	if e.Translation.BatchSize <= 0 {
		e.Translation.BatchSize = defaultTranslationBatchSize
	}
	if e.Translation.TimeoutSeconds <= 0 {
		e.Translation.TimeoutSeconds = defaultTranslationTimeout
	}

	e.Synthesis.Engine = lowerOr(e.Synthesis.Engine, defaultSynthesisEngine)
	e.Synthesis.ServerURL = strings.TrimRight(strings.TrimSpace(e.Synthesis.ServerURL), "/")
	if e.Synthesis.ServerURL == "" {
		e.Synthesis.ServerURL = defaultSynthesisServerURL
	}
	if e.Synthesis.TimeoutSeconds <= 0 {
		e.Synthesis.TimeoutSeconds = defaultSynthesisTimeout
	}

	e.Diarization.Engine = lowerOr(e.Diarization.Engine, defaultDiarizationEngine)
	e.Diarization.HuggingFaceToken = strings.TrimSpace(e.Diarization.HuggingFaceToken)
	if e.Diarization.HuggingFaceToken == "" {
		e.Diarization.HuggingFaceToken = firstEnv("HUGGING_FACE_HUB_TOKEN", "HF_TOKEN")
	}

	e.Separation.Engine = lowerOr(e.Separation.Engine, defaultSeparationEngine)
	e.Separation.Model = strings.TrimSpace(e.Separation.Model)
	if e.Separation.Model == "" {
		e.Separation.Model = defaultSeparationModel
	}

	e.Gender.Engine = lowerOr(e.Gender.Engine, defaultGenderEngine)
	if len(e.Gender.Speakers) > 0 {
		speakers := make(map[string]string, len(e.Gender.Speakers))
		for speaker, gender := range e.Gender.Speakers {
			speakers[strings.TrimSpace(speaker)] = strings.ToLower(strings.TrimSpace(gender))
		}
		e.Gender.Speakers = speakers
	}
	return nil
}

func (c *Config) normalizeStorage() {
	s := &c.Storage
	s.Bucket = strings.TrimSpace(s.Bucket)
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Prefix = strings.Trim(strings.TrimSpace(s.Prefix), "/")
	s.Region = strings.TrimSpace(s.Region)
	if s.Region == "" {
		s.Region = firstEnv("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if s.Region == "" {
		s.Region = defaultStorageRegion
	}
	s.AccessKeyID = strings.TrimSpace(s.AccessKeyID)
	if s.AccessKeyID == "" {
		s.AccessKeyID = firstEnv("AWS_ACCESS_KEY_ID")
	}
	s.SecretAccessKey = strings.TrimSpace(s.SecretAccessKey)
	if s.SecretAccessKey == "" {
		s.SecretAccessKey = firstEnv("AWS_SECRET_ACCESS_KEY")
	}
}

func (c *Config) normalizeProgress() {
	if c.Progress.BufferSize <= 0 {
		c.Progress.BufferSize = defaultProgressBufferSize
	}
	c.Progress.RedisAddr = strings.TrimSpace(c.Progress.RedisAddr)
	c.Progress.RedisChannel = strings.TrimSpace(c.Progress.RedisChannel)
	if c.Progress.RedisChannel == "" {
		c.Progress.RedisChannel = defaultRedisChannel
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
