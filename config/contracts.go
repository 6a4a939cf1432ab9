package config

// Validator is an interface that must be implemented by any configuration struct used in [FromYAMLFile].
//
// The Validate method checks the configuration values and
// returns an error if any value is invalid or missing when required.
//
// For fields such as file paths, the responsibility of Validate is limited to
// verifying the presence and format of the value,
// not checking external conditions like file existence or readability.
// This principle applies generally to any field where external validation
// (e.g., network availability, resource accessibility) is beyond the scope of basic configuration validation.
type Validator interface {
	// Validate checks the configuration values and
	// returns an error if any value is invalid or missing when required.
	Validate() error
}

// Flags is the subset of a parsed command-line flags struct that [Load] needs to locate and validate the
// YAML config file path, independent of whatever other flags an application defines.
type Flags interface {
	// GetConfigPath returns the config file path to load, falling back to an application-defined default
	// when no path was given explicitly on the command line.
	GetConfigPath() string

	// IsExplicitConfigPath reports whether the config file path was given explicitly on the command line,
	// as opposed to being the application-defined default.
	IsExplicitConfigPath() bool
}
