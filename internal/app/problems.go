package app

import (
	"time"

	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
)

// ProblemTypes returns the selectable problem catalog.
func (a *App) ProblemTypes() []models.ProblemType {
	return append([]models.ProblemType(nil), a.problemTypes...)
}

// SelectProblem picks a problem type by id.
func (a *App) SelectProblem(id int) { a.do(func() { a.selectProblem(id) }) }

// SetProblemDescription sets the free-form description.
func (a *App) SetProblemDescription(text string) { a.do(func() { a.problemText = text }) }

// SubmitProblem sends the report to support.
func (a *App) SubmitProblem() { a.do(func() { a.submitProblem() }) }

func (a *App) selectProblem(id int) {
	for i := range a.problemTypes {
		if a.problemTypes[i].ID == id {
			a.selectedProblem = &a.problemTypes[i]
			return
		}
	}
	a.selectedProblem = nil
}

func (a *App) submitProblem() error {
	if a.selectedProblem == nil {
		a.notices.Push(notify.KindError, "Error", "Select a problem type")
		return validationErr("problem type is required")
	}

	report := models.ProblemReport{
		ProblemType: a.selectedProblem.Name,
		Description: a.problemText,
		Timestamp:   time.Now().UTC(),
	}
	if a.ride != nil {
		id := a.ride.Order.ID
		report.OrderID = &id
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.ReportProblem(ctx, report); err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	a.selectedProblem = nil
	a.problemText = ""
	a.notices.Push(notify.KindSuccess, "Thank you", "The report was sent to support")
	return nil
}
