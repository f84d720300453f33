package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/query"
)

var (
	querySpec       string
	queryImpl       string
	queryIDPrefix   string
	queryJSON       bool
	queryMinCovered float64
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the workspace model",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&querySpec, "spec", "", "Restrict to one spec")
	queryCmd.PersistentFlags().StringVar(&queryImpl, "impl", "", "Restrict to one implementation")
	queryCmd.PersistentFlags().StringVar(&queryIDPrefix, "id-prefix", "", "Restrict to base IDs with this prefix")
	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "Emit raw JSON")

	queryCmd.AddCommand(
		queryListCmd("status", "Coverage totals and percentages", daemon.MethodStatus),
		queryListCmd("uncovered", "Requirements with no impl coverage", daemon.MethodUncovered),
		queryListCmd("untested", "Requirements with no verify coverage", daemon.MethodUntested),
		queryListCmd("stale", "Requirements with only stale impl references", daemon.MethodStale),
		queryUnmappedCmd(),
		queryRuleCmd(),
		queryConfigCmd(),
		queryValidateCmd(),
		queryReloadCmd(),
	)
	rootCmd.AddCommand(queryCmd)
}

func queryCall(method string, params, out interface{}) {
	client, _, err := connectOrStart()
	if err != nil {
		fail(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Call(ctx, method, params, out); err != nil {
		fail(err)
	}
}

func filterParams() daemon.FilterParams {
	return daemon.FilterParams{Spec: querySpec, Impl: queryImpl, Prefix: queryIDPrefix}
}

func emitJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(data))
}

func queryListCmd(name, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			if method == daemon.MethodStatus {
				var report query.StatusReport
				queryCall(method, nil, &report)
				if queryJSON {
					emitJSON(report)
					return
				}
				fmt.Print(query.RenderStatus(report))
				return
			}

			var groups []query.Group
			queryCall(method, filterParams(), &groups)
			if queryJSON {
				emitJSON(groups)
				return
			}
			fmt.Print(query.RenderGroups(name, groups))
		},
	}
}

func queryUnmappedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "unmapped",
		Short: "Files and code units with no references",
		Run: func(cmd *cobra.Command, args []string) {
			params := filterParams()
			params.Path = path

			var results []query.UnmappedResult
			queryCall(daemon.MethodUnmapped, params, &results)
			if queryJSON {
				emitJSON(results)
				return
			}
			fmt.Print(query.RenderUnmapped(results))
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Zoom to one file")
	return cmd
}

func queryRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rule ID",
		Short: "Full requirement text plus all references",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var detail query.RuleDetail
			queryCall(daemon.MethodRule, daemon.RuleParams{ID: args[0]}, &detail)
			if queryJSON {
				emitJSON(detail)
				return
			}
			fmt.Print(query.RenderRule(&detail))
		},
	}
}

func queryReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Rebuild the model now",
		Run: func(cmd *cobra.Command, args []string) {
			var v struct {
				Version uint64 `json:"version"`
			}
			queryCall(daemon.MethodReload, nil, &v)
			fmt.Printf("Rebuilt; model version %d\n", v.Version)
		},
	}
}

func queryConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective workspace configuration",
		Run: func(cmd *cobra.Command, args []string) {
			var result map[string]interface{}
			queryCall(daemon.MethodConfig, nil, &result)
			emitJSON(result)
		},
	}
}

func queryValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Full validation report",
		Run: func(cmd *cobra.Command, args []string) {
			var report query.ValidationReport
			queryCall(daemon.MethodValidate, filterParams(), &report)
			if queryJSON {
				emitJSON(report)
			} else {
				fmt.Print(query.RenderValidation(report))
			}
			if len(report.Errors) > 0 {
				os.Exit(exitFailure)
			}
			if queryMinCovered > 0 && !meetsCoverage(queryMinCovered) {
				os.Exit(exitThreshold)
			}
		},
	}
	cmd.Flags().Float64Var(&queryMinCovered, "min-coverage", 0,
		"Exit 2 when impl coverage falls below this percentage")
	return cmd
}

// meetsCoverage checks every (spec, impl) pair against a minimum impl
// percentage.
func meetsCoverage(minPercent float64) bool {
	var report query.StatusReport
	queryCall(daemon.MethodStatus, nil, &report)
	for _, p := range report.Pairs {
		if p.Stats.ImplPercent < minPercent {
			return false
		}
	}
	return true
}
