package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concord/internal/consolidate"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/query"
)

var (
	queryState string
	jsonOutput bool
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <subject> [attribute]",
	Short: "Query consolidated knowledge",
	Long: `Look up what the knowledge base holds for a subject, optionally
narrowed to one attribute or relation predicate.

The four maturity outcomes stay explicit in the output:
  validated    a single agreed value
  candidate    a probable value, flagged unconfirmed
  conflicting  every alternative with its sources; no best guess is picked
  ambiguous    the relation type itself is uncertain

"no structured knowledge found" is a distinct outcome, not an empty list.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryState, "state", "concord.facts.json", "fact state file")
	queryCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := effectiveConfig()
	log := logger.Nop()

	facts := consolidate.NewStore(log)
	if _, err := facts.LoadFile(queryState, cfg.Maturity); err != nil {
		return fmt.Errorf("load fact state: %w", err)
	}

	subject := args[0]
	attribute := ""
	if len(args) == 2 {
		attribute = args[1]
	}

	answers, err := query.NewService(facts).Lookup(subject, attribute)
	if errors.Is(err, model.ErrNoKnowledge) {
		if jsonOutput {
			fmt.Println(`{"outcome": "not_found"}`)
			return nil
		}
		fmt.Printf("No structured knowledge found for %q", subject)
		if attribute != "" {
			fmt.Printf(" / %q", attribute)
		}
		fmt.Println()
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answers)
	}

	for _, a := range answers {
		renderAnswer(a)
	}
	return nil
}

func renderAnswer(a query.Answer) {
	head := fmt.Sprintf("%s %s", a.Subject, a.Predicate)
	if a.Scope != "" {
		head += fmt.Sprintf(" [%s]", a.Scope)
	}

	switch a.Outcome {
	case query.OutcomeValidated:
		fmt.Printf("%s = %s%s  (validated, %d sources, conf %.2f)\n",
			head, negPrefix(a.Negated), a.Value, a.Sources, a.Confidence)

	case query.OutcomeCandidate:
		fmt.Printf("%s = %s%s  (candidate: %s)\n",
			head, negPrefix(a.Negated), a.Value, a.Disclaimer)

	case query.OutcomeConflicting:
		fmt.Printf("%s  CONFLICTING, sources disagree:\n", head)
		for _, alt := range a.Alternatives {
			fmt.Printf("  - %s%s  (from %s)\n",
				negPrefix(alt.Negated), alt.Value, strings.Join(alt.Sources, ", "))
		}

	case query.OutcomeAmbiguous:
		fmt.Printf("%s  AMBIGUOUS TYPE: %s\n", head, a.Disclaimer)
	}
}

func negPrefix(negated bool) string {
	if negated {
		return "NOT "
	}
	return ""
}
