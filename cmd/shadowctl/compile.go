package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowcheck/shadowcheck/internal/explorer/model"
	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/radio"
)

// ── compile ──────────────────────────────────────────────────────────────────

var (
	compileFilters string
	compileEnabled string
	compileSort    string
	compileKind    string
	compileLimit   int
	compileOffset  int
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile explorer filters to parameterized SQL",
	Long: `compile prints the SQL and arguments an explorer request would run,
with the applied and ignored filters. --filters and --enabled take JSON,
or @file to read it from a file:

  shadowctl compile --filters '{"threatScoreMin":60}' --enabled '{"threatScoreMin":true}'
  shadowctl compile --kind observations --filters @filters.json --enabled @enabled.json`,
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileFilters, "filters", "", "filters JSON object or @file")
	compileCmd.Flags().StringVar(&compileEnabled, "enabled", "", "enabled JSON object or @file")
	compileCmd.Flags().StringVar(&compileSort, "sort", "", `sort, e.g. "threatScore:desc,lastSeen"`)
	compileCmd.Flags().StringVar(&compileKind, "kind", "networks", "query kind: networks, count or observations")
	compileCmd.Flags().IntVar(&compileLimit, "limit", 0, "page size (default from config)")
	compileCmd.Flags().IntVar(&compileOffset, "offset", 0, "page offset")
}

func runCompile(cmd *cobra.Command, args []string) error {
	filters, err := readArg(compileFilters)
	if err != nil {
		return err
	}
	enabled, err := readArg(compileEnabled)
	if err != nil {
		return err
	}
	spec, err := filter.Parse(filters, enabled)
	if err != nil {
		return err
	}
	if err := filter.Validate(spec); err != nil {
		return err
	}
	compiled := query.Compile(spec, cfg.Quality.CompileOptions())

	sort, err := query.ParseSort(compileSort)
	if err != nil {
		return err
	}
	page, err := query.NewPage(compileLimit, compileOffset, cfg.Explorer.DefaultLimit, cfg.Explorer.MaxLimit)
	if err != nil {
		return err
	}

	var q query.Query
	switch compileKind {
	case "networks":
		q, err = query.NetworkList(compiled, sort, page)
	case "count":
		q, err = query.NetworkCount(compiled)
	case "observations":
		q, err = query.ObservationList(compiled, sort, page)
	default:
		return fmt.Errorf("unknown kind %q (want networks, count or observations)", compileKind)
	}
	if err != nil {
		return err
	}

	return printJSON(cmd, struct {
		SQL     string       `json:"sql"`
		Args    []any        `json:"args"`
		Filters model.Report `json:"filters"`
	}{q.SQL(), q.Args(), model.NewReport(compiled)})
}

// ── classify ─────────────────────────────────────────────────────────────────

var (
	classifyType         string
	classifyFrequency    int
	classifyCapabilities string
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Derive radio type, security, auth, channel and band for one record",
	Long: `classify applies the same inference rules the explorer compiles into SQL:

  shadowctl classify --frequency 5180 --capabilities "[WPA2-PSK-CCMP][ESS]"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd, radio.Classify(classifyType, classifyFrequency, classifyCapabilities))
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyType, "type", "", "stored radio type, if any")
	classifyCmd.Flags().IntVar(&classifyFrequency, "frequency", 0, "frequency in MHz")
	classifyCmd.Flags().StringVar(&classifyCapabilities, "capabilities", "", "capability string")
}
