package config

func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Source: SourceConfig{
			LongPollWait: 25,
		},
		Store: StoreConfig{
			DBPath: "~/.porter/porter.db",
		},
		Crossposting: CrosspostingConfig{
			Enabled:       true,
			IgnoreReposts: true,
		},
		Crosscommenting: CrosscommentingConfig{
			Enabled: true,
		},
		Resync: ResyncConfig{
			Enabled:  false,
			Schedule: "17 * * * *",
			Depth:    50,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9180",
		},
	}
}
