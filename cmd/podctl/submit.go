package main

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/podpilot/pkg/client"
	"github.com/kiranshivaraju/podpilot/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type submitOutput struct {
	PodID     string                   `json:"podId"               yaml:"podId"`
	PodName   string                   `json:"podName"             yaml:"podName"`
	CostPerHr *float64                 `json:"costPerHr,omitempty" yaml:"costPerHr,omitempty"`
	Session   *client.SessionLogResult `json:"session,omitempty"   yaml:"session,omitempty"`
	LogError  string                   `json:"logError,omitempty"  yaml:"logError,omitempty"`
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		file          string
		name          string
		trainingType  string
		checkpointURL string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a training pod from a job file and record its session log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadJobFile(file)
			if err != nil {
				return err
			}
			if name != "" {
				cfg.Name = name
			}
			if checkpointURL != "" {
				cfg.HFCheckpointDownloadURL = checkpointURL
			}
			if err := cfg.ApplyCheckpointURL(cfg.HFCheckpointDownloadURL); err != nil {
				return err
			}

			tt := models.TrainingType(trainingType)
			if !tt.Valid() {
				return fmt.Errorf("invalid training type %q (supported: piper, gemma, nemo)", trainingType)
			}
			username := a.v.GetString("username")
			if username == "" {
				return fmt.Errorf("username is required (--username or PODCTL_USERNAME)")
			}

			res, err := a.client().SubmitJob(cmd.Context(), cfg, client.SubmitOptions{
				Username:     username,
				TrainingType: tt,
			})
			if err != nil {
				return err
			}
			return printSubmit(cmd, res, a.output())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML job file (required)")
	cmd.Flags().StringVar(&name, "name", "", "pod name, overrides the job file")
	cmd.Flags().StringVar(&trainingType, "training-type", string(models.TrainingTypePiper), "trainer to run (piper, gemma, nemo)")
	cmd.Flags().StringVar(&checkpointURL, "checkpoint-url", "", "resume from this checkpoint URL")
	cmd.Flags().String("username", "", "user recorded in the session log")
	_ = cmd.MarkFlagRequired("file")
	_ = a.v.BindPFlag("username", cmd.Flags().Lookup("username"))

	return cmd
}

// loadJobFile reads a YAML job file on top of the default job configuration.
// A file without a cloudType gets the cloud its first GPU type is offered on.
func loadJobFile(path string) (models.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.JobConfig{}, fmt.Errorf("read job file: %w", err)
	}

	cfg := models.DefaultJobConfig()
	cfg.CloudType = ""
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return models.JobConfig{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if cfg.CloudType == "" {
		cfg.CloudType = models.CloudTypeForGPU(cfg.PrimaryGPUType())
	}
	return cfg, nil
}

func printSubmit(cmd *cobra.Command, res *client.SubmitResult, f outputFormat) error {
	out := submitOutput{
		PodID:     res.Pod.ID,
		PodName:   res.Pod.Name,
		CostPerHr: res.Pod.CostPerHr,
		Session:   res.Session,
	}
	if res.LogError != nil {
		out.LogError = res.LogError.Error()
	}
	if f != outputTable {
		return printDoc(cmd.OutOrStdout(), out, f)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pod %s created\n", res.Pod.ID)
	if res.Session != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s (%s)\n", res.Session.SessionID, res.Session.State)
		if res.Session.ArchiveURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Archived to %s\n", res.Session.ArchiveURL)
		}
		if res.Session.ArchiveError != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: archive failed: %s\n", res.Session.ArchiveError)
		}
	}
	if res.LogError != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: pod created but session log failed: %v\n", res.LogError)
	}
	return nil
}
