package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/loadforge/internal/extract"
	"github.com/torosent/loadforge/internal/logging"
	"github.com/torosent/loadforge/internal/output"
)

// sortEachAttribute is the --sort value when the flag is given bare.
const sortEachAttribute = "*"

func newExtractCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		sortBy          string
		includeTemplate bool
		all             bool
		outputFile      string
		debug           bool
	)
	cmd := &cobra.Command{
		Use:   "extract <results-dir> [attributes...]",
		Short: "Extract response attributes from recorded runs",
		Long: "Extract response attributes from the record logs of a run.\n\n" +
			"Attributes are response_id, status, response_time_ms, template_name, error,\n" +
			"headers, body, or any field of a JSON response body (dotted paths and\n" +
			"gjson syntax are accepted). Bodies are only recorded with --verbose.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.Options{Debug: debug, Verbose: true, Output: stderr})
			defer func() { _ = logger.Sync() }()

			x := extract.New(args[0], logger)
			if err := x.Load(); err != nil {
				return withCode(exitError, err)
			}

			if all {
				analysis := x.Analyze()
				output.PrintAnalysis(stdout, analysis)
				name := outputFile
				if name == "" {
					name = extract.DefaultAnalysisName(time.Now())
				}
				path := x.OutputPath(name)
				if err := extract.Save(path, analysis); err != nil {
					return withCode(exitError, fmt.Errorf("save analysis: %w", err))
				}
				fmt.Fprintf(stdout, "Analysis saved to %s\n", path)
				return nil
			}

			attrs := args[1:]
			if len(attrs) == 0 {
				return withCode(exitError, errors.New("no attributes given; pass attribute names or --all"))
			}
			q := extract.Query{Attributes: attrs, IncludeTemplate: includeTemplate}
			switch sortBy {
			case "":
			case sortEachAttribute:
				q.Sort = true
			default:
				q.SortBy = sortBy
			}
			result := x.Extract(q)

			if outputFile == "" {
				return output.PrintJSONReport(stdout, result)
			}
			path := x.OutputPath(outputFile)
			if err := extract.Save(path, result); err != nil {
				return withCode(exitError, fmt.Errorf("save extraction: %w", err))
			}
			fmt.Fprintf(stdout, "Extraction saved to %s\n", path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&sortBy, "sort", "", "Sort values; with an attribute, merge responses and order them by it")
	flags.Lookup("sort").NoOptDefVal = sortEachAttribute
	flags.BoolVar(&includeTemplate, "template", false, "Include the template name with each value")
	flags.BoolVar(&all, "all", false, "Analyze every response instead of extracting attributes")
	flags.StringVarP(&outputFile, "output", "o", "", "Write the result to this file (relative to the results directory)")
	flags.BoolVar(&debug, "debug", false, "Print debug logs")
	return cmd
}

// normalizeSortArgs lets "extract ... --sort ATTR" take an optional value
// the way "--sort=ATTR" does. Other commands are left untouched.
func normalizeSortArgs(args []string) []string {
	if !isExtract(args) {
		return args
	}
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			out = append(out, args[i:]...)
			break
		}
		if arg == "--sort" && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, "--sort="+args[i+1])
			i++
			continue
		}
		out = append(out, arg)
	}
	return out
}

func isExtract(args []string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg == "extract"
	}
	return false
}
