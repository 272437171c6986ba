package remediation

import (
	"fmt"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/types"
)

// buildExplanation produces the four-step observation/analysis/decision/action
// reasoning chain for a planned remediation.
func buildExplanation(inc *types.Incident, pred *types.Prediction, action types.Action, params map[string]int64, similar []types.Incident, recommended []string) types.Explanation {
	var steps []types.ExplanationStep

	if inc != nil {
		steps = append(steps, types.ExplanationStep{
			Stage:   "observation",
			Content: fmt.Sprintf("observed %s on %s: %s", inc.Kind, inc.Resource.Key(), inc.Message),
		})
	} else if pred != nil {
		steps = append(steps, types.ExplanationStep{
			Stage:   "observation",
			Content: fmt.Sprintf("predicted %s on %s with probability %.2f", pred.IncidentKind, pred.Target.Key(), pred.Probability),
			Evidence: pred.Evidence,
		})
	}

	analysis := "no similar prior incidents found"
	if len(similar) > 0 {
		analysis = fmt.Sprintf("found %d similar prior incident(s) with this fingerprint", len(similar))
	}
	steps = append(steps, types.ExplanationStep{Stage: "analysis", Content: analysis})

	decision := fmt.Sprintf("selected action %s", action)
	if len(recommended) > 0 {
		decision = fmt.Sprintf("selected action %s based on knowledge base recommendations: %v", action, recommended)
	}
	steps = append(steps, types.ExplanationStep{Stage: "decision", Content: decision})

	steps = append(steps, types.ExplanationStep{
		Stage:   "action",
		Content: describeAction(action, params),
	})

	summary := fmt.Sprintf("will %s in response to %s", describeAction(action, params), subjectFor(inc, pred))

	return types.Explanation{Steps: steps, Summary: summary}
}

func subjectFor(inc *types.Incident, pred *types.Prediction) string {
	if inc != nil {
		return fmt.Sprintf("the observed %s incident", inc.Kind)
	}
	if pred != nil {
		return fmt.Sprintf("the predicted %s", pred.IncidentKind)
	}
	return "an unspecified condition"
}

func rollbackPlanDescription(action types.Action, params map[string]int64) (bool, string) {
	inverse, ok := rollbackableActions[action]
	if !ok {
		return false, "this action cannot be automatically rolled back"
	}
	return true, fmt.Sprintf("rollback would %s", describeAction(inverse, inverseParameters(params)))
}
