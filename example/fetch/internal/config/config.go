package config

const (
	// HTTP client configuration
	UserAgent  = "courier-fetch/0.1.0"
	MaxRetries = 3

	// Server configuration
	MetricsPort = ":2112"

	// Download configuration
	ResumeSuffix     = ".resume"
	ProgressStep     = 5       // percent between progress lines
	ProgressByteStep = 1 << 20 // bytes between progress lines when the length is unknown
)
