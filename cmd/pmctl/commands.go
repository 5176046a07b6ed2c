package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"packagemanager/internal/desiredstate"
	"packagemanager/internal/manager"
	"packagemanager/internal/orchestrator"
	"packagemanager/internal/workforce"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type accepted struct {
	Accepted bool   `json:"accepted"`
	ID       string `json:"id,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show expectation and container counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var counts orchestrator.Counts
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/v1/status", nil, &counts); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, counts)
			}
			rows := [][]string{
				{"Expected packages", strconv.Itoa(counts.ExpectedPackages)},
				{"Package containers", strconv.Itoa(counts.PackageContainers)},
				{"Expectations", strconv.Itoa(counts.Expectations)},
				{"Container expectations", strconv.Itoa(counts.PackageContainerExpectations)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(cmd.OutOrStdout(), []string{"Item", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newExpectationsCommand(ctx *commandContext) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:     "expectations [id]",
		Aliases: []string{"exp"},
		Short:   "List tracked expectations or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ctx.client()
			if len(args) == 1 {
				var info manager.TrackedInfo
				if err := c.do(cmd.Context(), http.MethodGet, "/v1/expectations/"+escape(args[0]), nil, &info); err != nil {
					return err
				}
				return writeJSON(cmd, info)
			}

			var list struct {
				Expectations []manager.TrackedInfo `json:"expectations"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/expectations", nil, &list); err != nil {
				return err
			}
			filtered := list.Expectations[:0]
			for _, ti := range list.Expectations {
				if state == "" || string(ti.State) == state {
					filtered = append(filtered, ti)
				}
			}
			if ctx.json {
				return writeJSON(cmd, filtered)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderExpectations(cmd, filtered))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only show expectations in this state")
	return cmd
}

func renderExpectations(cmd *cobra.Command, list []manager.TrackedInfo) string {
	rows := make([][]string, 0, len(list))
	for _, ti := range list {
		rows = append(rows, []string{
			ti.ID,
			string(ti.Type),
			string(ti.State),
			strconv.Itoa(ti.Priority),
			fmt.Sprintf("%.0f%%", ti.Progress*100),
			ti.Reason.User,
		})
	}
	return renderTable(cmd.OutOrStdout(),
		[]string{"ID", "Type", "State", "Priority", "Progress", "Reason"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft})
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "restart [id]",
		Short: "Restart an expectation, or all of them with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either an expectation id or --all")
			}
			return cobra.MaximumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/expectations/restart"
			if !all {
				path = "/v1/expectations/" + escape(args[0]) + "/restart"
			}
			return postCommand(cmd, ctx, http.MethodPost, path, nil, "Restart requested")
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Restart every expectation")
	return cmd
}

func newAbortCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abort <id>",
		Short: "Abort an expectation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postCommand(cmd, ctx, http.MethodPost, "/v1/expectations/"+escape(args[0])+"/abort", nil, "Abort requested")
		},
	}
}

func newRestartContainerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart-container <containerId>",
		Short: "Restart the cronjobs and monitors of a package container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postCommand(cmd, ctx, http.MethodPost, "/v1/containers/"+escape(args[0])+"/restart", nil, "Container restart requested")
		},
	}
}

func newKillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <appId>",
		Short: "Kill a worker process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postCommand(cmd, ctx, http.MethodDelete, "/v1/apps/"+escape(args[0]), nil, "Kill requested")
		},
	}
}

func postCommand(cmd *cobra.Command, ctx *commandContext, method, path string, body any, done string) error {
	var resp accepted
	if err := ctx.client().do(cmd.Context(), method, path, body, &resp); err != nil {
		return err
	}
	if ctx.json {
		return writeJSON(cmd, resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), done)
	return nil
}

func newWorkforceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "workforce",
		Short: "Show hosts and planned workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st workforce.Status
			if err := ctx.client().do(cmd.Context(), http.MethodGet, "/v1/workforce", nil, &st); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(st.Planned))
			for _, pw := range st.Planned {
				rows = append(rows, []string{pw.HostID, pw.AppType, pw.AppID, strconv.FormatBool(pw.InUse)})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Host", "App type", "App", "In use"}, rows, nil))
			fmt.Fprintf(out, "Needs: %d, unmet: %d\n", st.Needs, st.Unmet)
			return nil
		},
	}
}

func newApplyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Replace the desired state with a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snap, err := desiredstate.Parse(data)
			if err != nil {
				return err
			}
			if missing := snap.Missing(); missing != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is missing, the package manager keeps its current expectations\n", missing)
			}
			return postCommand(cmd, ctx, http.MethodPut, "/v1/desired-state", snap, "Desired state applied")
		},
	}
}
