// Package naming maps GraphQL type and field names onto PostgreSQL relation
// and column names.
package naming

// Config holds naming customization options
type Config struct {
	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// SingularOverrides maps plural -> custom singular
	// Example: {"people": "person", "data": "datum"}
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`

	// TableOverrides maps a GraphQL type name to an explicit table name.
	// Example: {"Viewer": "organisations"}
	TableOverrides map[string]string `mapstructure:"table_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides:   make(map[string]string),
		SingularOverrides: make(map[string]string),
		TableOverrides:    make(map[string]string),
	}
}
