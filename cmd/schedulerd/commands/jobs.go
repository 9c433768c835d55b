package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantor/scheduler/config"
	"github.com/quantor/scheduler/db"
	"github.com/quantor/scheduler/job"
	"github.com/quantor/scheduler/logger"
)

// JobsCmd groups job store inspection commands.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job store",
	Long: `Inspect jobs tracked by the scheduler.

Job management commands:
  schedulerd jobs ls            # List recent jobs
  schedulerd jobs status <id>   # Show job details`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists recent jobs.
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent jobs",
	Long: `List the most recently created jobs with their current status.

Examples:
  schedulerd jobs ls             # List the 20 most recent jobs
  schedulerd jobs ls --limit 50  # Show up to 50 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(configPath, limit)
	},
}

// JobsStatusCmd shows the full state of one job.
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of a job",
	Long: `Display detailed status information for a job:
- Job ID, type, and current status
- Attempt count against the attempt ceiling
- Acknowledgment deadline and timestamps
- Result or error detail for finished jobs

Example:
  schedulerd jobs status 2f1c9a8e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runJobsStatus(configPath, args[0])
	},
}

func init() {
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
}

// openStore loads the config and opens the job store read path shared by
// the inspection commands.
func openStore(configPath string) (*job.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Open(cfg.Store.Path, logger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}

	return job.NewStore(database), func() { database.Close() }, nil
}

func runJobsLs(configPath string, limit int) error {
	store, closeStore, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	jobs, err := store.ListRecent(limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-12s %-30s %-10s %s\n", "JOB ID", "STATUS", "TYPE", "ATTEMPTS", "CREATED")
	fmt.Printf("%-36s %-12s %-30s %-10s %s\n", "------", "------", "----", "--------", "-------")
	for _, j := range jobs {
		attempts := fmt.Sprintf("%d/%d", j.AttemptCount, j.MaxAttempts)
		fmt.Printf("%-36s %-12s %-30s %-10s %s\n",
			j.ID, j.Status, j.Type, attempts, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runJobsStatus(configPath, jobID string) error {
	store, closeStore, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	j, err := store.Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to fetch job %s: %w", jobID, err)
	}

	fmt.Printf("Job:          %s\n", j.ID)
	fmt.Printf("Type:         %s\n", j.Type)
	fmt.Printf("Status:       %s\n", j.Status)
	fmt.Printf("Attempts:     %d/%d\n", j.AttemptCount, j.MaxAttempts)
	fmt.Printf("Timeout:      %s\n", j.Timeout)
	fmt.Printf("Created:      %s\n", j.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:      %s\n", j.UpdatedAt.Format("2006-01-02 15:04:05"))
	if j.DispatchedAt != nil {
		fmt.Printf("Dispatched:   %s\n", j.DispatchedAt.Format("2006-01-02 15:04:05"))
	}
	if j.AckDeadline != nil {
		fmt.Printf("Ack deadline: %s\n", j.AckDeadline.Format("2006-01-02 15:04:05"))
	}
	if j.DurationMs != nil {
		fmt.Printf("Duration:     %dms\n", *j.DurationMs)
	}
	if j.Result != nil {
		fmt.Printf("Result:       %s\n", string(j.Result))
	}
	if j.Error != "" {
		fmt.Printf("Error:        %s\n", j.Error)
	}
	return nil
}
