package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	Port           string
	WorkerCount    int
	UpdateInterval int
	UpdateJitter   float64
	DefaultsFile   string
	SearchEnabled  bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
