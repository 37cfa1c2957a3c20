package faults

import "sort"

const supportPriority = 100

// recoveryFor builds the ranked action list for a fault type. A contact
// support action is always appended last as the terminal fallback.
func (h *Handler) recoveryFor(t Type, severity Severity, retryable bool) Recovery {
	var suggested string
	var actions []Action

	switch t {
	case TypeNetwork:
		suggested = "Check your connection and retry"
		actions = []Action{
			{Type: ActionRetry, Label: "Retry", Description: "Retry the failed request", Priority: 1, Automated: true, Run: h.actions.Retry},
			{Type: ActionRefresh, Label: "Refresh", Description: "Reload the dashboard", Priority: 2, Run: h.actions.Refresh},
		}
	case TypeWebSocket:
		suggested = "Re-establish the live connection"
		actions = []Action{
			{Type: ActionReconnect, Label: "Reconnect", Description: "Reopen the streaming connection", Priority: 1, Automated: true, Run: h.actions.Reconnect},
			{Type: ActionFallback, Label: "Switch to polling", Description: "Keep data flowing over periodic requests", Priority: 2, Automated: true, Run: h.actions.Fallback},
		}
	case TypeCanister:
		suggested = "Retry, the backend may be under load"
		actions = []Action{
			{Type: ActionRetry, Label: "Retry", Description: "Retry the backend call", Priority: 1, Automated: true, Run: h.actions.Retry},
			{Type: ActionFallback, Label: "Use backup endpoint", Description: "Route the call to a backup endpoint", Priority: 2, Run: h.actions.Fallback},
		}
	case TypeAuthentication:
		suggested = "Sign in again"
		actions = []Action{
			{Type: ActionRefresh, Label: "Sign in again", Description: "Re-authenticate your session", Priority: 1, Run: h.actions.Refresh},
		}
	case TypeValidation:
		suggested = "Check the highlighted fields"
		actions = []Action{
			{Type: ActionRefresh, Label: "Review input", Description: "Correct the invalid fields and resubmit", Priority: 1},
		}
	case TypeRateLimit:
		suggested = "Wait a moment before retrying"
		actions = []Action{
			{Type: ActionRetry, Label: "Retry later", Description: "Retry after the rate limit window passes", Priority: 1, Automated: true, Run: h.actions.Retry},
		}
	case TypeCycles:
		suggested = "Top up cycles to continue"
		actions = []Action{
			{Type: ActionRefresh, Label: "Top up cycles", Description: "Add cycles to the canister balance", Priority: 1},
		}
	case TypeSubnet:
		suggested = "Retry on a healthy subnet"
		actions = []Action{
			{Type: ActionRetry, Label: "Retry", Description: "Retry once consensus recovers", Priority: 1, Automated: true, Run: h.actions.Retry},
			{Type: ActionFallback, Label: "Switch subnet", Description: "Route to a healthy backend partition", Priority: 2, Run: h.actions.Fallback},
		}
	default:
		suggested = "Try refreshing the dashboard"
		actions = []Action{
			{Type: ActionRefresh, Label: "Refresh", Description: "Reload the dashboard", Priority: 1, Run: h.actions.Refresh},
		}
	}

	actions = append(actions, Action{
		Type:        ActionContactSupport,
		Label:       "Contact support",
		Description: "Report the problem to support",
		Priority:    supportPriority,
	})

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})

	return Recovery{
		Suggested:  suggested,
		Actions:    actions,
		AutoRetry:  retryable && severity != SeverityCritical,
		MaxRetries: 3,
	}
}
