package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"example.com/streaks/internal/api"
	"example.com/streaks/internal/auth"
	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/persistence"
)

func (c *cli) logCmd() *cobra.Command {
	var input domain.ActivityInput

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record an activity for today",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		if err := input.Validate(); err != nil {
			return err
		}
		result, err := c.service.RecordActivity(cmd.Context(), input)
		if err != nil {
			return err
		}
		return c.emit(cmd.OutOrStdout(), api.NewCreateActivityResponse(*result), func(w io.Writer) {
			a := result.Activity
			fmt.Fprintf(w, "Logged #%d %q (%s, %d min) on %s\n", a.ID, a.Description, a.Type, a.DurationMin, a.ActivityDate)
			if s := result.Archived; s != nil {
				fmt.Fprintf(w, "Previous streak ended: %s, %s to %s\n", plural(s.Length, "day"), s.StartDate, s.EndDate)
			}
		})
	})

	flags := cmd.Flags()
	flags.StringVarP(&input.Description, "description", "d", "", "What you did")
	flags.StringVarP(&input.Type, "type", "t", "", "Activity type")
	flags.StringVarP(&input.Intensity, "intensity", "i", "", "Intensity (low, medium, high)")
	flags.IntVarP(&input.DurationMin, "duration", "m", 0, "Duration in minutes")
	flags.StringVar(&input.Mood, "mood", "", "Mood after the activity")
	return cmd
}

func (c *cli) currentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the live streak",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		length, err := c.service.CurrentStreakLength(cmd.Context())
		if err != nil {
			return err
		}
		out := api.CurrentStreakResponse{Length: length, AsOf: c.service.Today()}
		return c.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
			fmt.Fprintf(w, "Current streak: %s\n", plural(length, "day"))
		})
	})
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived streaks, most recent first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		streaks, err := c.service.PastStreaks(cmd.Context())
		if err != nil {
			return err
		}
		return c.emit(cmd.OutOrStdout(), api.NewListStreaksResponse(streaks), func(w io.Writer) {
			if len(streaks) == 0 {
				fmt.Fprintln(w, "No past streaks")
				return
			}
			for _, s := range streaks {
				fmt.Fprintf(w, "%s  %s to %s\n", plural(s.Length, "day"), s.StartDate, s.EndDate)
			}
		})
	})
	return cmd
}

func (c *cli) activitiesCmd() *cobra.Command {
	var (
		from, to, cursor string
		limit            int
	)

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "List logged activities, newest first",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		query := domain.ActivityQuery{Limit: limit}
		if from != "" || to != "" {
			if from == "" || to == "" {
				return errors.New("--from and --to must be supplied together")
			}
			fromDate, err := calendar.ParseDate(from)
			if err != nil {
				return err
			}
			toDate, err := calendar.ParseDate(to)
			if err != nil {
				return err
			}
			query.Range = &domain.DateRange{From: fromDate, To: toDate}
		}
		decoded, err := persistence.DecodeCursor(cursor)
		if err != nil {
			return err
		}
		query.Cursor = decoded

		activities, next, err := c.service.ListActivities(cmd.Context(), query)
		if err != nil {
			return err
		}
		out := api.NewListActivitiesResponse(activities, next)
		return c.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
			if len(activities) == 0 {
				fmt.Fprintln(w, "No activities")
				return
			}
			for _, a := range activities {
				fmt.Fprintf(w, "%s  #%-4d %-10s %3d min  %s\n", a.ActivityDate, a.ID, a.Type, a.DurationMin, a.Description)
			}
			if next != nil {
				fmt.Fprintf(w, "More: --cursor %s\n", persistence.EncodeCursor(next))
			}
		})
	})

	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "First date (YYYY-MM-DD)")
	flags.StringVar(&to, "to", "", "Last date (YYYY-MM-DD)")
	flags.IntVarP(&limit, "limit", "n", 20, "Maximum results")
	flags.StringVar(&cursor, "cursor", "", "Continue from a previous listing")
	return cmd
}

func (c *cli) todayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "today",
		Short: "Report whether anything has been logged today",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		logged, err := c.service.HasLoggedToday(cmd.Context())
		if err != nil {
			return err
		}
		out := api.DayResponse{Date: c.service.Today(), Logged: logged}
		return c.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
			if logged {
				fmt.Fprintln(w, "Logged today")
				return
			}
			fmt.Fprintln(w, "Nothing logged today")
		})
	})
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise streak history",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = c.withService(func(cmd *cobra.Command, args []string) error {
		stats, err := c.service.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return c.emit(cmd.OutOrStdout(), api.NewStatsResponse(stats), func(w io.Writer) {
			fmt.Fprintln(w, "Streak stats")
			fmt.Fprintln(w, strings.Repeat("=", 30))
			fmt.Fprintf(w, "  Current:      %s\n", plural(stats.CurrentStreak, "day"))
			fmt.Fprintf(w, "  Longest:      %s\n", plural(stats.LongestStreak, "day"))
			fmt.Fprintf(w, "  Active days:  %d\n", stats.TotalActiveDays)
			fmt.Fprintf(w, "  Activities:   %d\n", stats.TotalActivities)
			if stats.LastActivityDate != nil {
				fmt.Fprintf(w, "  Last active:  %s\n", stats.LastActivityDate)
			}
			fmt.Fprintf(w, "  Logged today: %t\n", stats.LoggedToday)
		})
	})
	return cmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.IssueToken(auth.Config{Secret: c.cfg.JWTSecret, Issuer: c.cfg.JWTIssuer}, subject, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&subject, "subject", "local-user", "Token subject")
	flags.StringSliceVar(&scopes, "scopes", auth.AllScopes, "Scopes to grant")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
