package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirquery/internal/config"
	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/explain"
)

func compileCmd() *cobra.Command {
	var (
		ids     []int64
		variant string
		legacy  bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "compile <type|-> <query>",
		Short: "Print the statements compiled for a search query",
		Long: "Compile a FHIR search query string into SQL without executing it.\n" +
			"Use - as the type for a whole-system search. Identities are assigned\n" +
			"from the registry, so no database is needed.",
		Example: "  fhirquery compile Patient 'name=smith&_sort=-birthdate'\n" +
			"  fhirquery compile - '_type=Patient,Practitioner&name=smith'\n" +
			"  fhirquery compile Patient '_include=Patient:organization' --ids 1,2,3",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("variant") {
				cfg.SchemaVariant = variant
			}
			if cmd.Flags().Changed("legacy") {
				cfg.LegacyWholeSystemParams = legacy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
			c, err := newCompiler(cfg, reg, staticCache(reg), logger)
			if err != nil {
				return err
			}

			rt := args[0]
			if rt == "-" {
				rt = search.ResourceTypeAny
			}
			q, err := url.ParseQuery(strings.TrimPrefix(args[1], "?"))
			if err != nil {
				return fmt.Errorf("parse query string: %w", err)
			}
			ctx, err := c.parser.Parse(rt, q)
			if err != nil {
				return err
			}
			resp, err := explain.Compile(c.builder, ctx, ids)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "logical resource ids to build include statements for")
	cmd.Flags().StringVar(&variant, "variant", "plain", "schema variant: plain or distributed")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "allow any parameter in whole-system searches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the explain response as JSON")
	return cmd
}

func printResponse(w io.Writer, resp *explain.Response) {
	fmt.Fprintf(w, "resource type: %s\n", resp.ResourceType)
	fmt.Fprintf(w, "strategy:      %s\n", resp.Strategy)
	if resp.Plan != "" {
		fmt.Fprintf(w, "plan:          %s\n", resp.Plan)
	}
	printStatement(w, "count", resp.Count)
	printStatement(w, "data", resp.Data)
	for _, inc := range resp.Includes {
		printStatement(w, inc.Directive, inc.Statement)
	}
}

func printStatement(w io.Writer, title string, stmt domain.Statement) {
	fmt.Fprintf(w, "\n-- %s\n%s\n", title, stmt.SQL)
	for i, arg := range stmt.Args {
		fmt.Fprintf(w, "--   $%d = %v\n", i+1, arg)
	}
}
