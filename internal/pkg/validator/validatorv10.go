package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/samber/lo"
)

// Broker resource names: start with a letter, 3 to 255 characters of
// letters, digits and - _ . ~ + %, never starting with "goog".
var reResourceID = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9\-_.~+%]{2,254}$`)

// ErrTranslatorNotFound is returned when the English translator is missing.
var ErrTranslatorNotFound = errors.New("validator: translator not found")

// V10Validator implements Validator with go-playground/validator v10.
type V10Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// V10ValidationError maps snake_case field names to messages.
type V10ValidationError map[string]string

func (vs V10ValidationError) Error() string {
	if len(vs) == 0 {
		return "validation error"
	}
	b, err := json.Marshal(map[string]string(vs))
	if err != nil {
		return fmt.Sprintf("validation error: %v", err)
	}
	return string(b)
}

// Values returns the field messages.
func (vs V10ValidationError) Values() map[string]string {
	return vs
}

// NewV10Validator builds a validator with English messages and the
// resource_id and encoding rules.
func NewV10Validator() (*V10Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	enLang := en.New()
	trans, ok := ut.New(enLang, enLang).GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	rules := []struct {
		tag  string
		msg  string
		rule validator.Func
	}{
		{
			tag:  "resource_id",
			msg:  "{0} must start with a letter and be 3-255 letters, digits or -_.~+%, not starting with goog",
			rule: isResourceID,
		},
		{
			tag:  "encoding",
			msg:  "{0} must be BINARY or JSON",
			rule: isEncoding,
		},
	}

	for _, r := range rules {
		if err := validate.RegisterValidation(r.tag, r.rule); err != nil {
			return nil, err
		}
		if err := validate.RegisterTranslation(r.tag, trans, addTranslation(r.tag, r.msg), translate); err != nil {
			return nil, err
		}
	}

	return &V10Validator{validate: validate, translator: trans}, nil
}

// Validate returns V10ValidationError when a struct rule fails.
func (v *V10Validator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(V10ValidationError, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[lo.SnakeCase(fe.Field())] = fe.Translate(v.translator)
	}
	return out
}

func isResourceID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return reResourceID.MatchString(s) && !strings.HasPrefix(strings.ToLower(s), "goog")
}

func isEncoding(fl validator.FieldLevel) bool {
	switch strings.ToUpper(fl.Field().String()) {
	case "BINARY", "JSON":
		return true
	default:
		return false
	}
}

func addTranslation(tag, msg string) validator.RegisterTranslationsFunc {
	return func(t ut.Translator) error {
		return t.Add(tag, msg, false)
	}
}

func translate(t ut.Translator, fe validator.FieldError) string {
	msg, err := t.T(fe.Tag(), fe.Field())
	if err != nil {
		return fe.Error()
	}
	return msg
}
