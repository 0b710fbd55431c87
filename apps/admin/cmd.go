package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/billing"
	"github.com/trezcool/quizbank/core/quiz"
	"github.com/trezcool/quizbank/services/poller"
)

const dateLayout = "2006-01-02"

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf       *core.Config
	logger     core.Logger
	db         *sql.DB
	billingSvc billing.Service
	quizSvc    quiz.Service
	poller     *poller.Poller
	closers    []func() error
}

func newRootCommand(cli *commandLine) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "admin",
		Short:         "QuizBank operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}

	rootCmd.AddCommand(newMigrateCommand(cli))
	rootCmd.AddCommand(newPlansCommand(cli))
	rootCmd.AddCommand(newGrantCreditsCommand(cli))
	rootCmd.AddCommand(newSetPlanCommand(cli))
	rootCmd.AddCommand(newSharePasswordCommand(cli))
	rootCmd.AddCommand(newPollCommand(cli))

	return rootCmd
}

// withServices runs `run` once the app services are loaded.
func withServices(cli *commandLine, run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := cli.loadServices(); err != nil {
			return err
		}
		return run(cmd, args)
	}
}

func newPlansCommand(cli *commandLine) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the subscription plans",
		Args:  cobra.NoArgs,
		RunE: withServices(cli, func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderPlans(cli.billingSvc.Plans()))
			return nil
		}),
	}
}

func newGrantCreditsCommand(cli *commandLine) *cobra.Command {
	var userID string
	var credits int

	cmd := &cobra.Command{
		Use:   "grant-credits",
		Short: "Grant bonus generations to a user",
		Args:  cobra.NoArgs,
		RunE: withServices(cli, func(cmd *cobra.Command, args []string) error {
			sub, err := cli.billingSvc.GrantCredits(cmd.Context(), userID, credits)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now has %d bonus credits\n", sub.UserID, sub.BonusCredits)
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "The Clerk user id")
	cmd.Flags().IntVar(&credits, "credits", 0, "The number of generations to grant")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("credits")
	return cmd
}

func newSetPlanCommand(cli *commandLine) *cobra.Command {
	var userID, planID, until string

	cmd := &cobra.Command{
		Use:   "set-plan",
		Short: "Put a user on a plan until a date, outside of Stripe",
		Args:  cobra.NoArgs,
		RunE: withServices(cli, func(cmd *cobra.Command, args []string) error {
			var end time.Time
			if until != "" {
				var err error
				if end, err = time.ParseInLocation(dateLayout, until, time.UTC); err != nil {
					return core.NewFieldError("until", "must be a date formatted as YYYY-MM-DD")
				}
			}
			sub, err := cli.billingSvc.SetPlan(cmd.Context(), userID, planID, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is on the %s plan until %s\n", sub.UserID, sub.PlanID, sub.CurrentPeriodEnd.Format(dateLayout))
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "The Clerk user id")
	cmd.Flags().StringVar(&planID, "plan", "", "The plan id")
	cmd.Flags().StringVar(&until, "until", "", "The last day of the plan (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newSharePasswordCommand(cli *commandLine) *cobra.Command {
	var quizID string

	cmd := &cobra.Command{
		Use:   "share-password",
		Short: "Set the password of a shared quiz (an empty password removes it)",
		Args:  cobra.NoArgs,
		RunE: withServices(cli, func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), "Enter password:")
			pwd, err := readPasswordFunc(int(syscall.Stdin))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			qz, err := cli.quizSvc.SetSharePassword(cmd.Context(), quizID, string(pwd))
			if err != nil {
				return err
			}
			if qz.IsProtected() {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is now password protected\n", qz.Title)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%q is no longer password protected\n", qz.Title)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "The quiz id")
	_ = cmd.MarkFlagRequired("quiz")
	return cmd
}

func newPollCommand(cli *commandLine) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Check the pending generation jobs once",
		Args:  cobra.NoArgs,
		RunE: withServices(cli, func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, ran, err := cli.poller.Run(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ran {
				fmt.Fprintln(out, "another poller is running, try again later")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Checked", "Completed", "Failed", "Pending"},
				[][]string{{
					strconv.Itoa(report.Checked),
					strconv.Itoa(report.Completed),
					strconv.Itoa(report.Failed),
					strconv.Itoa(report.Pending),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this duration")
	return cmd
}
