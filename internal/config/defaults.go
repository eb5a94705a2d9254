package config

const (
	defaultDataDir               = "~/.local/share/clipforge"
	defaultLogDir                = "~/.local/share/clipforge/logs"
	defaultAPIBind               = "127.0.0.1:7519"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultProviderTimeout       = 30
	defaultPublishTimeout        = 60
	defaultFanoutTimeout         = 10
	defaultLedgerTimeout         = 10
	defaultProviderLimit         = 30
	defaultProviderWindowSeconds = 60
	defaultPublishLimit          = 10
	defaultPublishWindowSeconds  = 60
	defaultPollInterval          = 2
	defaultErrorRetryInterval    = 5
	defaultPublishBaseDelay      = 5
	defaultPublishMaxDelay       = 300
	defaultPublishRetryBudget    = 5
	defaultProcessingTimeout     = 600
	defaultPublishingTimeout     = 300
	defaultSweepInterval         = 30
	defaultVisibility            = "unlisted"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind: defaultAPIBind,
		},
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Providers: Providers{
			Flashcut:  Provider{RequestTimeout: defaultProviderTimeout},
			Studiocut: Provider{RequestTimeout: defaultProviderTimeout},
		},
		RateLimit: RateLimit{
			ProviderLimit:         defaultProviderLimit,
			ProviderWindowSeconds: defaultProviderWindowSeconds,
			PublishLimit:          defaultPublishLimit,
			PublishWindowSeconds:  defaultPublishWindowSeconds,
		},
		Pipeline: Pipeline{
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			PublishBaseDelay:   defaultPublishBaseDelay,
			PublishMaxDelay:    defaultPublishMaxDelay,
			PublishRetryBudget: defaultPublishRetryBudget,
			ProcessingTimeout:  defaultProcessingTimeout,
			PublishingTimeout:  defaultPublishingTimeout,
			SweepInterval:      defaultSweepInterval,
		},
		Publish: Publish{
			DefaultVisibility: defaultVisibility,
			RequestTimeout:    defaultPublishTimeout,
		},
		Fanout: Fanout{
			RequestTimeout: defaultFanoutTimeout,
		},
		Ledger: Ledger{
			RequestTimeout: defaultLedgerTimeout,
		},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
