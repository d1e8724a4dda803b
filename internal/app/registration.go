package app

import (
	"strings"

	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
)

const regSteps = 4

// RegistrationNext advances the wizard, bounded at step 4.
func (a *App) RegistrationNext() { a.do(func() { a.regNext() }) }

// RegistrationPrev steps back, bounded at step 1.
func (a *App) RegistrationPrev() { a.do(func() { a.regPrev() }) }

// UpdateDraft applies an edit to the registration draft.
func (a *App) UpdateDraft(edit func(*models.RegistrationDraft)) {
	a.do(func() { edit(a.draft) })
}

// MarkDocumentUploaded marks a document slot as uploaded. The transfer
// itself is a stub.
func (a *App) MarkDocumentUploaded(slot string) {
	a.do(func() { a.markDocumentUploaded(slot) })
}

// SubmitRegistration validates and posts the whole draft as one unit.
func (a *App) SubmitRegistration() { a.do(func() { a.submitRegistration() }) }

func (a *App) regNext() {
	if a.regStep < regSteps {
		a.regStep++
	}
}

func (a *App) regPrev() {
	if a.regStep > 1 {
		a.regStep--
	}
}

func (a *App) markDocumentUploaded(slot string) {
	if _, ok := a.draft.Documents[slot]; !ok {
		a.notices.Push(notify.KindError, "Documents", "Unknown document slot")
		return
	}
	a.draft.Documents[slot] = true
	a.notices.Push(notify.KindInfo, "Documents", "Document attached")
}

// validateDraft checks required fields in wizard order and reports the
// first unmet rule.
func validateDraft(d *models.RegistrationDraft) error {
	switch {
	case strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "":
		return validationErr("Fill in your full name")
	case strings.TrimSpace(d.CarBrand) == "" || strings.TrimSpace(d.CarModel) == "" || strings.TrimSpace(d.CarPlate) == "":
		return validationErr("Fill in your vehicle details")
	case strings.TrimSpace(d.LicenseNumber) == "":
		return validationErr("Fill in your license number")
	case !d.AgreeTerms:
		return validationErr("You must accept the terms")
	}
	return nil
}

func (a *App) submitRegistration() error {
	if err := validateDraft(a.draft); err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.Register(ctx, a.draft); err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	a.notices.Push(notify.KindSuccess, "Done", "Application submitted for review")
	a.draft = models.NewRegistrationDraft()
	a.regStep = 1
	a.showScreen(ScreenLogin)
	return nil
}
