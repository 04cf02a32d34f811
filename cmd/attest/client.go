package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"attest/api/internal/assessment"
	"attest/api/internal/remote"
	"attest/api/internal/worker"
)

var (
	questionnaireOnly bool
	assessmentOnly    bool
	assumeYes         bool
	clearAnswer       bool
	evidenceDesc      string
	evidenceReqs      []string
)

const requirementAssessmentsPath = "/requirement-assessments"

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Obtain a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := remote.NewClient(cfg.ServerURL).Login(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <compliance-assessment>",
	Short: "Print the requirement assessments of a compliance assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		view, err := assessment.Open(cmd.Context(), client, args[0], viewOptions(true), nil, nil, nil)
		if err != nil {
			return err
		}
		printRows(cmd.OutOrStdout(), view)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <compliance-assessment> <requirement-assessment> <status|result|observation> <value>",
	Short: "Select a status or result, or save an observation",
	Long: `Set applies the edit locally and persists it in the background.

Selecting the value that is already active resets status to to_do and result
to not_assessed.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		raID, field, value := args[1], assessment.Field(args[2]), args[3]
		return withEditor(cmd, args[0], func(view *assessment.View) error {
			switch field {
			case assessment.FieldStatus:
				got, err := view.SelectStatus(raID, assessment.Status(value))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s status: %s\n", raID, got)
			case assessment.FieldResult:
				got, err := view.SelectResult(raID, assessment.Result(value))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s result: %s\n", raID, got)
			case assessment.FieldObservation:
				if err := view.EditObservation(raID, value); err != nil {
					return err
				}
				if err := view.SaveObservation(raID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s observation saved\n", raID)
			default:
				return fmt.Errorf("%w: %s", assessment.ErrUnknownField, field)
			}
			return nil
		})
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <compliance-assessment> <requirement-assessment> <question-urn> [value]",
	Short: "Answer a question of a requirement assessment",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		raID, urn := args[1], args[2]
		if len(args) == 3 && !clearAnswer {
			return errors.New("a value or --clear is required")
		}
		return withEditor(cmd, args[0], func(view *assessment.View) error {
			if clearAnswer {
				return view.SetAnswer(raID, urn, nil)
			}
			question, err := findQuestion(view, raID, urn)
			if err != nil {
				return err
			}
			if question.Type == assessment.QuestionUniqueChoice {
				got, err := view.SelectChoice(raID, urn, args[3])
				if err != nil {
					return err
				}
				if got == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: cleared\n", raID, urn)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", raID, urn, *got)
				}
				return nil
			}
			value := args[3]
			return view.SetAnswer(raID, urn, &value)
		})
	},
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Create or delete evidences",
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add <compliance-assessment> <name>",
	Short: "Create an evidence and attach it to requirement assessments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		view, err := assessment.Open(cmd.Context(), client, args[0], viewOptions(true), nil, nil, nil)
		if err != nil {
			return err
		}
		created, err := client.CreateEvidence(cmd.Context(), remote.EvidenceInput{
			Name:         args[1],
			Description:  evidenceDesc,
			Requirements: evidenceReqs,
		})
		if err != nil {
			return err
		}
		if _, err := view.HandleEvidenceCreated(cmd.Context(), created); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created evidence %s\n", created.ID)
		printRows(cmd.OutOrStdout(), view)
		return nil
	},
}

var evidenceDeleteCmd = &cobra.Command{
	Use:   "delete <compliance-assessment> <evidence-id>",
	Short: "Delete an evidence",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		in := cmd.InOrStdin()
		out := cmd.OutOrStdout()
		prompt := remote.NewDeletionPrompt(client, func(req assessment.DeletionRequest) bool {
			if assumeYes {
				return true
			}
			fmt.Fprintf(out, "Delete evidence %s? [y/N] ", req.ID)
			var answer string
			_, _ = fmt.Fscanln(in, &answer)
			return strings.EqualFold(strings.TrimSpace(answer), "y")
		})
		view, err := assessment.Open(cmd.Context(), client, args[0], viewOptions(false), nil, nil, prompt)
		if err != nil {
			return err
		}
		return view.RequestEvidenceDeletion(cmd.Context(), args[1], evidenceName(view, args[1]))
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, showCmd, setCmd, answerCmd, evidenceCmd)
	evidenceCmd.AddCommand(evidenceAddCmd, evidenceDeleteCmd)

	for _, cmd := range []*cobra.Command{showCmd, setCmd, answerCmd, evidenceAddCmd} {
		cmd.Flags().BoolVar(&questionnaireOnly, "questionnaire-only", false, "show questions only")
		cmd.Flags().BoolVar(&assessmentOnly, "assessment-only", false, "show status and result even for third parties")
	}
	answerCmd.Flags().BoolVar(&clearAnswer, "clear", false, "clear the answer")
	evidenceAddCmd.Flags().StringVar(&evidenceDesc, "description", "", "evidence description")
	evidenceAddCmd.Flags().StringSliceVar(&evidenceReqs, "requirement", nil, "requirement assessment to attach to (repeatable)")
	evidenceDeleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func newClient() *remote.Client {
	return remote.NewClient(cfg.ServerURL, remote.WithToken(cfg.Token))
}

func viewOptions(shallow bool) assessment.Options {
	return assessment.Options{
		Shallow:           shallow,
		QuestionnaireOnly: questionnaireOnly,
		AssessmentOnly:    assessmentOnly,
		ActionPath:        requirementAssessmentsPath,
	}
}

// withEditor opens an editable view, runs edit and waits for every update
// it issued to be persisted.
func withEditor(cmd *cobra.Command, complianceAssessmentID string, edit func(*assessment.View) error) error {
	client := newClient()
	var (
		mu       sync.Mutex
		failures []error
	)
	dispatcher := assessment.NewDispatcher(client, assessment.DispatcherOptions{
		Workers:   cfg.PersistWorkers,
		QueueSize: cfg.PersistQueue,
		Retries:   cfg.PersistRetries,
		Limiter:   worker.NewLimiter(cfg.PersistRate, 1),
		OnResult: func(o assessment.Outcome) {
			assessment.LogFailures(o)
			if o.Err != nil {
				mu.Lock()
				failures = append(failures, o.Err)
				mu.Unlock()
			}
		},
	})

	view, err := assessment.Open(cmd.Context(), client, complianceAssessmentID, viewOptions(false), dispatcher, nil, nil)
	if err != nil {
		dispatcher.Shutdown()
		return err
	}
	if err := edit(view); err != nil {
		dispatcher.Shutdown()
		return err
	}

	done := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Minute):
		return fmt.Errorf("timed out waiting for updates to persist, %d still queued", dispatcher.Pending())
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d update(s) failed: %w", len(failures), errors.Join(failures...))
	}
	return nil
}

func findQuestion(view *assessment.View, raID, urn string) (assessment.Question, error) {
	ra, ok := view.Board().Assessment(raID)
	if !ok {
		return assessment.Question{}, fmt.Errorf("%w: %s", assessment.ErrUnknownAssessment, raID)
	}
	if ra.Answer != nil {
		for _, q := range ra.Answer.Questions {
			if q.URN == urn {
				return q, nil
			}
		}
	}
	return assessment.Question{}, fmt.Errorf("%w: %s", assessment.ErrUnknownQuestion, urn)
}

func evidenceName(view *assessment.View, evidenceID string) string {
	for _, ra := range view.Board().Assessments() {
		for _, ev := range ra.Evidences {
			if ev.ID == evidenceID {
				return ev.Str
			}
		}
	}
	return evidenceID
}

func printRows(out io.Writer, view *assessment.View) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if view.QuestionnaireMode() {
		fmt.Fprintln(tw, "ID\tREQUIREMENT\tANSWERED\tEVIDENCES")
	} else {
		fmt.Fprintln(tw, "ID\tREQUIREMENT\tSTATUS\tRESULT\tEVIDENCES")
	}
	for _, row := range view.Rows() {
		if view.QuestionnaireMode() {
			answered := 0
			for _, q := range row.Questions {
				if q.Answer != nil {
					answered++
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\n", row.ID, row.Title, answered, len(row.Questions), len(row.Evidences))
			continue
		}
		status, result := string(row.Status), string(row.Result)
		if !row.ShowStatusResult {
			status, result = "-", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", row.ID, row.Title, status, result, len(row.Evidences))
	}
	_ = tw.Flush()
}
