package wizard

import "github.com/storedesk/ticketbot/internal/domain"

// NextStep computes the next required wizard step from the fields still
// missing. category is the resolved selected category, or nil when none
// is chosen yet (neither in the session nor as the user's default).
//
// The store step appears only when the chosen category requires a store
// and neither the user's profile nor the session pins one.
func NextStep(user *domain.User, category *domain.Category, data domain.SessionData) domain.Step {
	if category == nil {
		return domain.StepSelectCategory
	}
	if category.RequiresStore && user.StoreID == nil && data.StoreID == nil {
		return domain.StepSelectStore
	}
	if data.ProblemID == nil {
		return domain.StepSelectProblem
	}
	if data.Description == "" {
		return domain.StepEnterDescription
	}
	return domain.StepUploadFile
}
