package config

const (
	defaultConfigPath             = "~/.config/dubline/config.toml"
	defaultStagingDir             = "~/.local/share/dubline/staging"
	defaultOutputDir              = "~/.local/share/dubline/output"
	defaultStateDir               = "~/.local/share/dubline/state"
	defaultLogDir                 = "~/.local/share/dubline/logs"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultMaxConcurrentJobs      = 2
	defaultQueueCapacity          = 64
	defaultRecordRetries          = 3
	defaultRetryBackoffMillis     = 500
	defaultSynthesisParallelism   = 2
	defaultSpeedTolerance         = 0.20
	defaultBackgroundVolume       = 1.0
	defaultMaxInputMB             = 2048
	defaultWorkRetentionHours     = 72
	defaultDevice                 = "cpu"
	defaultRecognitionEngine      = "whisperx"
	defaultRecognitionModel       = "medium"
	defaultRecognitionComputeType = "float32"
	defaultVADMethod              = "silero"
	defaultTranslationEngine      = "llm"
	defaultTranslationBaseURL     = "https://api.openai.com/v1/chat/completions"
	defaultTranslationModel       = "gpt-4o-mini"
	defaultTranslationBatchSize   = 20
	defaultTranslationTimeout     = 120
	defaultSynthesisEngine        = "tts_api"
	defaultSynthesisServerURL     = "http://127.0.0.1:8000"
	defaultSynthesisTimeout       = 60
	defaultDiarizationEngine      = "whisperx"
	defaultSeparationEngine       = "demucs"
	defaultSeparationModel        = "htdemucs"
	defaultGenderEngine           = "none"
	defaultStorageRegion          = "us-east-1"
	defaultProgressBufferSize     = 256
	defaultRedisChannel           = "dubline:progress"
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultLogMaxSizeMB           = 50
	defaultLogMaxBackups          = 5
)

var defaultAcceptedFormats = []string{"mp4"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			QueueCapacity:          defaultQueueCapacity,
			RecordRetries:          defaultRecordRetries,
			RetryBackoffMillis:     defaultRetryBackoffMillis,
			SynthesisParallelism:   defaultSynthesisParallelism,
			SpeedTolerance:         defaultSpeedTolerance,
			BackgroundVolume:       defaultBackgroundVolume,
			MaxInputMB:             defaultMaxInputMB,
			AcceptedFormats:        append([]string(nil), defaultAcceptedFormats...),
			CleanIntermediateFiles: true,
			ExportLedger:           true,
			WorkRetentionHours:     defaultWorkRetentionHours,
		},
		Engines: Engines{
			Device:       defaultDevice,
			CacheEnabled: true,
			Recognition: Recognition{
				Engine:      defaultRecognitionEngine,
				Model:       defaultRecognitionModel,
				ComputeType: defaultRecognitionComputeType,
				VADMethod:   defaultVADMethod,
				CacheDir:    defaultCacheDir("whisperx"),
			},
			Translation: Translation{
				Engine:         defaultTranslationEngine,
				BaseURL:        defaultTranslationBaseURL,
				Model:          defaultTranslationModel,
				BatchSize:      defaultTranslationBatchSize,
				TimeoutSeconds: defaultTranslationTimeout,
			},
			Synthesis: Synthesis{
				Engine:         defaultSynthesisEngine,
				ServerURL:      defaultSynthesisServerURL,
				TimeoutSeconds: defaultSynthesisTimeout,
			},
			Diarization: Diarization{
				Engine: defaultDiarizationEngine,
			},
			Separation: Separation{
				Engine: defaultSeparationEngine,
				Model:  defaultSeparationModel,
			},
			Gender: Gender{
				Engine: defaultGenderEngine,
			},
		},
		Storage: Storage{
			Region:         defaultStorageRegion,
			PublishOutputs: true,
		},
		Progress: Progress{
			BufferSize:   defaultProgressBufferSize,
			RedisChannel: defaultRedisChannel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			JobCancelled:   true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
	}
}
