package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/internal/output"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/batch"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/spf13/cobra"
)

type fetchOptions struct {
	start       string
	end         string
	access      string
	agent       string
	granularity string
	format      string
	failFast    bool
	noColor     bool
}

func newFetchCmd(a *app) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch [flags] URL...",
		Short: "Fetch statistics for one or more pages",
		Long: `Fetch page-view statistics for every page URL over the same date range
and print the merged rows. Pages that fail are reported on stderr; the
command exits non-zero if any page failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, a, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.start, "start", "", "first day, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.end, "end", "", "last day, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.access, "access", "", "all-access, desktop, mobile-web or mobile-app")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "all-agents, user, spider or automated")
	cmd.Flags().StringVar(&opts.granularity, "granularity", "", "daily or monthly")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(output.FormatTable), "output format: table, csv, json")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "abort on the first failed page")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable colored error output")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runFetch(cmd *cobra.Command, a *app, opts *fetchOptions, urls []string) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	start, err := parseDate("start date", opts.start)
	if err != nil {
		return err
	}
	end, err := parseDate("end date", opts.end)
	if err != nil {
		return err
	}

	reqOpts, err := a.requestOptions(opts.access, opts.agent, opts.granularity)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("fail-fast") {
		a.cfg.Client.FailFast = opts.failFast
	}

	ctx := cmd.Context()
	c, _, cleanup, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	results, runErr := c.FetchMany(ctx, urls, start, end, reqOpts)

	printer := output.NewPrinter(cmd.ErrOrStderr(), !opts.noColor)
	failed := reportFailures(printer, results)

	if err := output.Write(cmd.OutOrStdout(), format, results.Merge().Table()); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		printer.Warning("%d of %d pages failed", failed, len(results))
		return fmt.Errorf("%d of %d pages failed", failed, len(results))
	}
	return nil
}

// requestOptions resolves filters: explicit flag values win over the config file.
func (a *app) requestOptions(access, agent, granularity string) (pageviews.Options, error) {
	q := a.cfg.Query
	if access != "" {
		q.Access = access
	}
	if agent != "" {
		q.Agent = agent
	}
	if granularity != "" {
		q.Granularity = granularity
	}

	cfg := a.cfg
	cfg.Query = q
	return cfg.Options()
}

func reportFailures(p *output.Printer, results batch.Results) int {
	failed := results.Failed()
	for _, r := range failed {
		p.Error("%s: %v", r.PageURL, r.Err)
	}
	return len(failed)
}

// parseDate accepts YYYY-MM-DD or YYYYMMDD.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, pageviews.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &pageviews.ValidationError{Field: field, Value: s, Reason: "want YYYY-MM-DD"}
}
