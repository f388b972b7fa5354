package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/client"
	"github.com/kiranshivaraju/podpilot/pkg/models"
	"github.com/spf13/cobra"
)

func newLogsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect training session logs",
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(newLogsGetCmd(a), newLogsListCmd(a))
	return cmd
}

func newLogsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session log held by the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := a.client().GetSessionLog(cmd.Context(), args[0])
			if err != nil {
				return describeMissingSession(args[0], err)
			}

			// A session log is a nested document; table output falls back to YAML.
			f := a.output()
			if f == outputTable {
				f = outputYAML
			}
			return printDoc(cmd.OutOrStdout(), log, f)
		},
	}
}

// describeMissingSession points at the archive copy when the server reports
// the session was moved to object storage.
func describeMissingSession(id string, err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, client.ErrNotFound) {
		return err
	}
	if d, ok := apiErr.Details.(map[string]any); ok {
		if url, ok := d["url"].(string); ok && url != "" {
			return fmt.Errorf("session %s is no longer held locally; archived copy at %s", id, url)
		}
		if state, ok := d["state"].(string); ok {
			return fmt.Errorf("session %s is no longer held locally (state %s)", id, state)
		}
	}
	return fmt.Errorf("session %s not found", id)
}

func newLogsListCmd(a *app) *cobra.Command {
	var (
		q     client.SessionQuery
		tt    string
		state string
		since string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed session logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.TrainingType = models.TrainingType(tt)
			q.State = models.SessionState(state)
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				q.Since = t
			}

			page, err := a.client().ListSessionLogs(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printSessions(cmd.OutOrStdout(), page, a.output())
		},
	}

	cmd.Flags().StringVar(&q.Username, "username", "", "only sessions of this user")
	cmd.Flags().StringVar(&q.PodID, "pod-id", "", "only sessions of this pod")
	cmd.Flags().StringVar(&tt, "training-type", "", "only sessions of this trainer (piper, gemma, nemo)")
	cmd.Flags().StringVar(&state, "state", "", "only sessions in this state (CREATED, ARCHIVED, ARCHIVE_FAILED)")
	cmd.Flags().StringVar(&since, "since", "", "only sessions created after this RFC3339 time or duration ago, e.g. 24h")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "sessions per page")

	return cmd
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 time or positive duration", s)
	}
	return now.Add(-d), nil
}

func printSessions(w io.Writer, page *client.SessionPage, f outputFormat) error {
	if f != outputTable {
		return printDoc(w, page.Sessions, f)
	}

	rows := make([][]string, 0, len(page.Sessions))
	for _, s := range page.Sessions {
		rows = append(rows, []string{
			s.SessionID.String(),
			s.Username,
			s.PodID,
			string(s.TrainingType),
			string(s.State),
			s.CreatedAt.Local().Format(time.DateTime),
		})
	}
	if err := printTable(w, []string{"SESSION", "USER", "POD", "TYPE", "STATE", "CREATED"}, rows, "No sessions found."); err != nil {
		return err
	}
	if len(rows) > 0 {
		more := ""
		if page.Meta.HasNext {
			more = ", more with --page " + strconv.Itoa(page.Meta.Page+1)
		}
		_, err := fmt.Fprintf(w, "page %d, %d of %d sessions%s\n", page.Meta.Page, len(rows), page.Meta.Total, more)
		return err
	}
	return nil
}
