package approval

import "github.com/Mindburn-Labs/aatp-router/pkg/contracts"

// transitions is the complete set of legal status changes.
// Terminal states have no outgoing edges.
var transitions = map[contracts.ApprovalStatus][]contracts.ApprovalStatus{
	contracts.ApprovalPending: {
		contracts.ApprovalApproved,
		contracts.ApprovalRejected,
		contracts.ApprovalExpired,
	},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to contracts.ApprovalStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func targetFor(action contracts.DecisionAction) (contracts.ApprovalStatus, bool) {
	switch action {
	case contracts.DecisionApprove:
		return contracts.ApprovalApproved, true
	case contracts.DecisionReject:
		return contracts.ApprovalRejected, true
	}
	return "", false
}
