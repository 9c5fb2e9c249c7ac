package signal

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

var (
	signalKindTag  = "signal_kind"
	signalKindText = "{0} must be one of assessment-response, goal-action, team-action or achievement"
)

// InitValidators registers the signal validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(signalKindTag, signalKindValidation)
	core.RegisterCustomTranslation(validate, translator, signalKindTag, signalKindText)
}

// signalKindValidation checks that the kind is one of AllKinds
func signalKindValidation(fl validator.FieldLevel) bool {
	return Kind(fl.Field().String()).Valid()
}
