// Command graphql-pg-sql prints the single PostgreSQL statement a GraphQL
// document compiles to against the demo schema. It never connects to a
// database.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jzimmek/graphql-pg/internal/demo"
	"github.com/jzimmek/graphql-pg/internal/engine"
	"github.com/jzimmek/graphql-pg/internal/naming"
)

// Format selects how compiled statements are printed.
type Format string

const (
	FormatJSON   Format = "json"
	FormatText   Format = "text"
	FormatPretty Format = "pretty"
)

// ErrInvalidDocument is returned when the document does not validate
// against the schema.
var ErrInvalidDocument = errors.New("document is not valid for the schema")

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(1)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(1)
	}
}

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	case "pretty":
		return FormatPretty, nil
	default:
		return "", fmt.Errorf("invalid format: %s (valid: json, text, pretty)", s)
	}
}

func defaultFormat() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return string(FormatPretty)
	}
	return string(FormatText)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphql-pg-sql",
		Short: "Show the PostgreSQL statement compiled for a GraphQL document",
		Long: `graphql-pg-sql compiles GraphQL documents against the demo schema into the
single SQL statement the server would run, together with its positional
parameters. Nothing is executed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCompileCmd())
	return cmd
}

type compileOptions struct {
	query         string
	variables     string
	operationName string
	values        map[string]string
	dbMerge       bool
	format        string
}

func newCompileCmd() *cobra.Command {
	opts := compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a document read from --query, a file or stdin",
		Example: `  graphql-pg-sql compile -q '{ feed { ... on Person { name } } }'
  graphql-pg-sql compile query.graphql --variables '{"after":"WzNd"}' -f json
  echo '{ viewer { name } }' | graphql-pg-sql compile --value viewer=jan`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ParseFormat(opts.format)
			if err != nil {
				return err
			}
			query, err := readDocument(cmd.InOrStdin(), opts.query, args)
			if err != nil {
				return err
			}
			result, err := compile(cmd.Context(), query, opts)
			if err != nil {
				return err
			}
			out, err := render(result, format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "GraphQL document")
	cmd.Flags().StringVar(&opts.variables, "variables", "", "Variables as a JSON object")
	cmd.Flags().StringVar(&opts.operationName, "operation", "", "Operation to compile when the document has several")
	cmd.Flags().StringToStringVar(&opts.values, "value", nil, "Request value handed to select functions, e.g. viewer=jan")
	cmd.Flags().BoolVar(&opts.dbMerge, "db-merge", false, "Wrap the statement in the database side merge function")
	cmd.Flags().StringVarP(&opts.format, "format", "f", defaultFormat(), "Output format: json, text, pretty")
	return cmd
}

func readDocument(stdin io.Reader, query string, args []string) (string, error) {
	switch {
	case query != "":
		return query, nil
	case len(args) == 1 && args[0] != "-":
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read document from stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", errors.New("no document given: use --query, a file argument or stdin")
		}
		return string(data), nil
	}
}

// Result is what the compile command prints.
type Result struct {
	Operation string `json:"operation"`
	SQL       string `json:"sql"`
	Params    []any  `json:"params"`
}

func compile(ctx context.Context, query string, opts compileOptions) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var variables map[string]any
	if opts.variables != "" {
		dec := json.NewDecoder(strings.NewReader(opts.variables))
		dec.UseNumber()
		if err := dec.Decode(&variables); err != nil {
			return nil, fmt.Errorf("parse --variables: %w", err)
		}
		normalizeNumbers(variables)
	}
	values := make(map[string]any, len(opts.values))
	for k, v := range opts.values {
		values[k] = v
	}

	schema, err := demo.NewSchema()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Options{
		Schema:  schema,
		Selects: demo.Selects(naming.Default()),
		DBMerge: opts.dbMerge,
	})
	if err != nil {
		return nil, err
	}

	if errs := eng.Validate(query); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
	}

	compiled, err := eng.Compile(ctx, engine.Request{
		Query:         query,
		OperationName: opts.operationName,
		Variables:     variables,
		Values:        values,
	})
	if err != nil {
		return nil, err
	}
	params := compiled.Query.Params
	if params == nil {
		params = []any{}
	}
	return &Result{Operation: compiled.OperationType, SQL: compiled.Query.SQL, Params: params}, nil
}

// normalizeNumbers turns JSON numbers into int when integral and float64
// otherwise.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeNumber(v)
	}
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		normalizeNumbers(t)
		return t
	case []any:
		for i := range t {
			t[i] = normalizeNumber(t[i])
		}
		return t
	default:
		return v
	}
}

func render(r *Result, format Format) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatText:
		params, err := json.Marshal(r.Params)
		if err != nil {
			return "", err
		}
		return r.SQL + "\n" + string(params), nil
	case FormatPretty:
		return renderPretty(r), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func renderPretty(r *Result) string {
	var b bytes.Buffer
	b.WriteString(headerStyle.Render(r.Operation) + "\n")
	if r.SQL == "" {
		b.WriteString(mutedStyle.Render("nothing to execute") + "\n")
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString(r.SQL + "\n")
	if len(r.Params) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}

	t := table.New().
		Width(120).
		Wrap(true).
		Headers("PARAM", "VALUE", "TYPE").
		StyleFunc(func(row, col int) lipgloss.Style {
			return cellStyle
		})
	for i, p := range r.Params {
		value, _ := json.Marshal(p)
		t.Row(fmt.Sprintf("$%d", i+1), string(value), fmt.Sprintf("%T", p))
	}
	b.WriteString("\n" + t.Render())
	return b.String()
}

func renderError(err error) string {
	return errorStyle.Render("error: " + err.Error())
}
