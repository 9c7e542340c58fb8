package wizard

import (
	"testing"

	"github.com/storedesk/ticketbot/internal/domain"
)

func TestNextStep(t *testing.T) {
	id := func(v int64) *int64 { return &v }
	storeCat := &domain.Category{ID: 1, Name: "Хозяйственные", RequiresStore: true}
	plainCat := &domain.Category{ID: 2, Name: "IT", RequiresStore: false}
	boundUser := &domain.User{ID: 7, StoreID: id(3)}
	freeUser := &domain.User{ID: 8}

	cases := []struct {
		name     string
		user     *domain.User
		category *domain.Category
		data     domain.SessionData
		want     domain.Step
	}{
		{"no category yet", freeUser, nil, domain.SessionData{}, domain.StepSelectCategory},
		{"store required, user unbound", freeUser, storeCat, domain.SessionData{CategoryID: id(1)}, domain.StepSelectStore},
		{"store required, user bound", boundUser, storeCat, domain.SessionData{CategoryID: id(1)}, domain.StepSelectProblem},
		{"store required, chosen in session", freeUser, storeCat, domain.SessionData{CategoryID: id(1), StoreID: id(4)}, domain.StepSelectProblem},
		{"store not required", freeUser, plainCat, domain.SessionData{CategoryID: id(2)}, domain.StepSelectProblem},
		{"problem chosen", freeUser, plainCat, domain.SessionData{CategoryID: id(2), ProblemID: id(5)}, domain.StepEnterDescription},
		{"description entered", freeUser, plainCat, domain.SessionData{CategoryID: id(2), ProblemID: id(5), Description: "x"}, domain.StepUploadFile},
	}
	for _, c := range cases {
		if got := NextStep(c.user, c.category, c.data); got != c.want {
			t.Errorf("%s: NextStep = %q, want %q", c.name, got, c.want)
		}
	}
}
