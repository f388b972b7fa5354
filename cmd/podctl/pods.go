package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/client"
	"github.com/kiranshivaraju/podpilot/pkg/models"
	"github.com/spf13/cobra"
)

func newPodsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pods",
		Aliases: []string{"pod"},
		Short:   "List and manage training pods",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all pods",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				pods, err := a.client().ListPods(cmd.Context())
				if err != nil {
					return err
				}
				return printPods(cmd.OutOrStdout(), pods, a.output())
			},
		},
		&cobra.Command{
			Use:   "get <pod-id>",
			Short: "Show one pod",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				pod, err := a.client().GetPod(cmd.Context(), args[0])
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("pod %q not found", args[0])
				}
				if err != nil {
					return err
				}
				if a.output() == outputTable {
					return printPods(cmd.OutOrStdout(), []models.PodSummary{*pod}, outputTable)
				}
				return printDoc(cmd.OutOrStdout(), pod, a.output())
			},
		},
		&cobra.Command{
			Use:   "stop <pod-id>",
			Short: "Stop a running pod",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.client().StopPod(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pod %s stopping\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:     "delete <pod-id>",
			Aliases: []string{"terminate"},
			Short:   "Terminate a pod",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				msg, err := a.client().DeletePod(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			},
		},
		newWatchCmd(a),
	)

	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the pod list until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			p := client.NewPoller(a.client(), interval, func(pods []models.PodSummary, err error) {
				fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly))
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
					return
				}
				_ = printPods(out, pods, a.output())
			})

			err := p.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "refresh interval")
	return cmd
}

func printPods(w io.Writer, pods []models.PodSummary, f outputFormat) error {
	if f != outputTable {
		return printDoc(w, pods, f)
	}

	rows := make([][]string, 0, len(pods))
	for _, p := range pods {
		rows = append(rows, []string{
			p.ID,
			orDash(p.Name),
			p.Status,
			orDash(p.GPUDisplayName),
			strconv.Itoa(p.GPUCount),
			fmt.Sprintf("$%.2f/hr", p.CostPerHr),
			formatUptime(p.UptimeInSeconds),
		})
	}
	return printTable(w, []string{"ID", "NAME", "STATUS", "GPU", "COUNT", "COST", "UPTIME"}, rows, "No pods found.")
}

func formatUptime(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	return (time.Duration(seconds) * time.Second).String()
}
