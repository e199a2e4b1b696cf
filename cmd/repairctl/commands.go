package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labfleet/repair-engine/internal/app"
	"github.com/labfleet/repair-engine/internal/fleet"
	"github.com/labfleet/repair-engine/pkg/models"
)

// unhealthyError reports that the command ran but hosts remain unhealthy
type unhealthyError struct {
	hosts []string
}

func (e *unhealthyError) Error() string {
	return "unhealthy: " + strings.Join(e.hosts, ", ")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd(opts *rootOptions, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run <hostname>",
		Short: "Verify a host and repair it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, newApp, func(a *app.App) error {
				diag, err := a.Coordinator.RunHost(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.json {
					if err := writeJSON(out, diag); err != nil {
						return err
					}
				} else {
					fmt.Fprint(out, diag.Summary())
				}

				if !diag.Healthy {
					return &unhealthyError{hosts: []string{diag.Host}}
				}
				return nil
			})
		},
	}
}

func newSweepCmd(opts *rootOptions, newApp appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep [hostname...]",
		Short: "Run strategies across hosts (default: the whole inventory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, newApp, func(a *app.App) error {
				report, err := a.Sweeper().Sweep(cmd.Context(), args)
				if report == nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.json {
					if jerr := writeJSON(out, report); jerr != nil {
						return jerr
					}
				} else {
					printReport(out, report)
				}
				if err != nil {
					return err
				}

				var bad []string
				for _, r := range report.Results {
					if r.Status == fleet.ResultUnhealthy || r.Status == fleet.ResultError {
						bad = append(bad, r.Host)
					}
				}
				if len(bad) > 0 {
					return &unhealthyError{hosts: bad}
				}
				return nil
			})
		},
	}
}

func printReport(w io.Writer, report *fleet.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tRESULT\tSTATE\tDIAGNOSIS\tERROR")
	for _, r := range report.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Host, r.Status, r.HostState, r.DiagnosisID, r.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d healthy, %d unhealthy, %d skipped, %d errors in %s\n",
		report.Count(fleet.ResultHealthy), report.Count(fleet.ResultUnhealthy),
		report.Count(fleet.ResultSkipped), report.Count(fleet.ResultError), report.Duration)
}

func newGraphCmd(opts *rootOptions, newApp appFactory) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph <strategy>",
		Short: "Print a strategy's verifier and repair graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, newApp, func(a *app.App) error {
				s, ok := a.Coordinator.Strategy(args[0])
				if !ok {
					return fmt.Errorf("strategy not found: %s", args[0])
				}
				desc := s.Describe()

				out := cmd.OutOrStdout()
				switch {
				case opts.json:
					return writeJSON(out, desc)
				case dot:
					printDot(out, &desc)
				default:
					printGraph(out, &desc)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "print the graph in Graphviz DOT format")
	return cmd
}

func printGraph(w io.Writer, desc *models.StrategyDescription) {
	fmt.Fprintf(w, "Strategy %s\n", desc.Name)
	fmt.Fprintf(w, "Order: %s\n\nVerifiers:\n", strings.Join(desc.Order, " -> "))
	for _, v := range desc.Verifiers {
		fmt.Fprintf(w, "  %-12s deps=[%s]", v.Name, strings.Join(v.Dependencies, ","))
		if v.Description != "" {
			fmt.Fprintf(w, "  %s", v.Description)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "Repairs:")
	for _, r := range desc.Repairs {
		fmt.Fprintf(w, "  %-12s triggers=[%s] deps=[%s]", r.Name, strings.Join(r.Triggers, ","), strings.Join(r.Dependencies, ","))
		if r.Description != "" {
			fmt.Fprintf(w, "  %s", r.Description)
		}
		fmt.Fprintln(w)
	}
}

// printDot draws dependency edges solid and trigger edges dashed
func printDot(w io.Writer, desc *models.StrategyDescription) {
	fmt.Fprintf(w, "digraph %q {\n", desc.Name)
	for _, v := range desc.Verifiers {
		fmt.Fprintf(w, "  %q [shape=box];\n", v.Name)
		for _, dep := range v.Dependencies {
			fmt.Fprintf(w, "  %q -> %q;\n", dep, v.Name)
		}
	}
	for _, r := range desc.Repairs {
		node := "repair:" + r.Name
		fmt.Fprintf(w, "  %q [shape=ellipse];\n", node)
		for _, t := range r.Triggers {
			fmt.Fprintf(w, "  %q -> %q [style=dashed];\n", t, node)
		}
		for _, dep := range r.Dependencies {
			fmt.Fprintf(w, "  %q -> %q;\n", dep, node)
		}
	}
	fmt.Fprintln(w, "}")
}
