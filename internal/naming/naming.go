package naming

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Namer derives table names from GraphQL type names.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config: cfg,
		logger: logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Pluralize returns the plural of a lower case word.
func (n *Namer) Pluralize(word string) string {
	return inflect(word, n.config.PluralOverrides, inflection.Plural)
}

// Singularize returns the singular of a lower case word.
func (n *Namer) Singularize(word string) string {
	return inflect(word, n.config.SingularOverrides, inflection.Singular)
}

func inflect(word string, overrides map[string]string, rule func(string) string) string {
	if w, ok := overrides[word]; ok {
		return w
	}
	return rule(word)
}

// TableName returns the relation backing a GraphQL object type.
// Example: "Person" -> "people", "LineItem" -> "line_items"
func (n *Namer) TableName(typeName string) string {
	if override, ok := n.config.TableOverrides[typeName]; ok {
		return override
	}
	words := splitWords(typeName)
	if len(words) == 0 {
		return ""
	}
	last := len(words) - 1
	words[last] = n.Pluralize(words[last])
	table := strings.Join(words, "_")
	n.logger.Debug("derived table name", slog.String("type", typeName), slog.String("table", table))
	return table
}

// TypeName converts a snake_case table name back to a singular PascalCase
// GraphQL type name.
// Example: "line_items" -> "LineItem"
func (n *Namer) TypeName(tableName string) string {
	words := splitWords(tableName)
	if len(words) == 0 {
		return ""
	}
	last := len(words) - 1
	words[last] = n.Singularize(words[last])
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, "")
}

// ColumnName converts a GraphQL field name to its snake_case column.
// Word boundaries follow lower/upper transitions, acronyms and digit runs.
// Example: "camelCase" -> "camel_case", "address2" -> "address_2", "HTMLBody" -> "html_body"
func ColumnName(fieldName string) string {
	return strings.Join(splitWords(fieldName), "_")
}

func splitWords(s string) []string {
	runes := []rune(s)
	var words []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(current) > 0 {
			prev := current[len(current)-1]
			switch {
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}
