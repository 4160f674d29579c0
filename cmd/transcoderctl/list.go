package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect transcode jobs",
	}

	var owner string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			st, closeFn, err := ctx.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			jobs, err := st.ListJobs(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				errText := ""
				if j.ErrorMessage != nil {
					errText = *j.ErrorMessage
				}
				rows = append(rows, []string{
					j.ID.String(),
					j.Status,
					strconv.Itoa(j.Progress) + "%",
					j.Format,
					j.Resolution,
					j.CreatedAt.Format(time.RFC3339),
					errText,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Progress", "Format", "Resolution", "Created", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "Owner whose jobs to list")
	jobsCmd.AddCommand(listCmd)
	return jobsCmd
}

func newVideosCommand(ctx *commandContext) *cobra.Command {
	videosCmd := &cobra.Command{
		Use:   "videos",
		Short: "Inspect uploaded videos",
	}

	var owner string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}
			st, closeFn, err := ctx.store(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			videos, err := st.ListVideos(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("list videos: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(videos) == 0 {
				fmt.Fprintln(out, "No videos")
				return nil
			}

			rows := make([][]string, 0, len(videos))
			for _, v := range videos {
				rows = append(rows, []string{
					v.ID.String(),
					v.OriginalName,
					humanize.Bytes(uint64(v.SizeBytes)),
					v.MimeType,
					v.UploadedAt.Format(time.RFC3339),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Size", "Type", "Uploaded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "Owner whose videos to list")
	videosCmd.AddCommand(listCmd)
	return videosCmd
}
