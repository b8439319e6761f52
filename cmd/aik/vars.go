package cli

// Flag values shared across commands.
var (
	cfgFile  string
	verbose  bool
	provider string
	model    string

	maxSteps      int
	intervalMs    int
	maxTokens     int
	temperature   float64
	monitor       int
	screenshotMax int
	dryRun        bool
	noVerify      bool
)
