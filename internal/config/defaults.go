package config

const (
	defaultDataDir                  = "~/.local/share/tributary/data"
	defaultLogDir                   = "~/.local/share/tributary/logs"
	defaultLockFile                 = "~/.local/share/tributary/run.lock"
	defaultAPIBind                  = "127.0.0.1:8357"
	defaultCatalogTimeoutSeconds    = 60
	defaultSourceTimeoutSeconds     = 30
	defaultOriginTimeoutSeconds     = 30
	defaultAccessionMaxAttempts     = 10
	defaultAccessionSkewSeconds     = 120
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultCatalogRepositoryNumber  = 2
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			LockFile: defaultLockFile,
			APIBind:  defaultAPIBind,
		},
		Catalog: Catalog{
			RepositoryID:   defaultCatalogRepositoryNumber,
			TimeoutSeconds: defaultCatalogTimeoutSeconds,
		},
		SourceStore: SourceStore{
			TimeoutSeconds: defaultSourceTimeoutSeconds,
		},
		Origin: Origin{
			TimeoutSeconds: defaultOriginTimeoutSeconds,
		},
		Accession: Accession{
			MaxCreateAttempts: defaultAccessionMaxAttempts,
			SearchSkewSeconds: defaultAccessionSkewSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
