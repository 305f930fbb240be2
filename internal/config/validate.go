package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	knownDevices       = []string{"cpu", "cuda"}
	knownRecognizers   = []string{"whisperx"}
	knownTranslators   = []string{"llm"}
	knownSynthesizers  = []string{"tts_api"}
	knownDiarizers     = []string{"whisperx", "none"}
	knownSeparators    = []string{"demucs", "none"}
	knownGenderEngines = []string{"none", "static"}
	knownGenders       = []string{"male", "female", "unknown"}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.max_concurrent_jobs":   c.Pipeline.MaxConcurrentJobs,
		"pipeline.queue_capacity":        c.Pipeline.QueueCapacity,
		"pipeline.synthesis_parallelism": c.Pipeline.SynthesisParallelism,
	}); err != nil {
		return err
	}
	if c.Pipeline.RetryBackoffMillis < 0 {
		return errors.New("pipeline.retry_backoff_ms must be >= 0")
	}
	if c.Pipeline.SpeedTolerance <= 0 || c.Pipeline.SpeedTolerance >= 1 {
		return errors.New("pipeline.speed_tolerance must be between 0 and 1 (exclusive)")
	}
	if c.Pipeline.BackgroundVolume < 0 || c.Pipeline.BackgroundVolume > 2 {
		return errors.New("pipeline.background_volume must be between 0 and 2")
	}
	if c.Pipeline.MaxInputMB < 0 {
		return errors.New("pipeline.max_input_mb must be >= 0")
	}
	if c.Pipeline.WorkRetentionHours < 0 {
		return errors.New("pipeline.work_retention_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateEngines() error {
	e := c.Engines
	checks := []struct {
		key   string
		value string
		known []string
	}{
		{"engines.device", e.Device, knownDevices},
		{"engines.recognition.engine", e.Recognition.Engine, knownRecognizers},
		{"engines.translation.engine", e.Translation.Engine, knownTranslators},
		{"engines.synthesis.engine", e.Synthesis.Engine, knownSynthesizers},
		{"engines.diarization.engine", e.Diarization.Engine, knownDiarizers},
		{"engines.separation.engine", e.Separation.Engine, knownSeparators},
		{"engines.gender.engine", e.Gender.Engine, knownGenderEngines},
	}
	for _, check := range checks {
		if !contains(check.known, check.value) {
			return fmt.Errorf("%s %q is not supported (expected one of %s)", check.key, check.value, strings.Join(check.known, ", "))
		}
	}
	for speaker, gender := range e.Gender.Speakers {
		if !contains(knownGenders, gender) {
			return fmt.Errorf("engines.gender.speakers.%s: unknown gender %q", speaker, gender)
		}
	}
	if e.Diarization.MinSpeakers < 0 || e.Diarization.MaxSpeakers < 0 {
		return errors.New("engines.diarization speaker bounds must be >= 0")
	}
	if e.Diarization.MaxSpeakers > 0 && e.Diarization.MinSpeakers > e.Diarization.MaxSpeakers {
		return errors.New("engines.diarization.min_speakers must not exceed max_speakers")
	}
	if e.Diarization.Engine == "whisperx" && e.Diarization.HuggingFaceToken == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("engines.diarization.hf_token is required for whisperx diarization. Set HF_TOKEN env var or edit %s (create with 'dubline config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled {
		return nil
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.enabled is true")
	}
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		return errors.New("storage.access_key_id and storage.secret_access_key must be set together")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func contains(values []string, candidate string) bool {
	for _, value := range values {
		if value == candidate {
			return true
		}
	}
	return false
}
