package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/sbilibin2017/gw-accounts/internal/models"
)

// Django's unicode username validator.
var reUsername = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

// ErrTranslatorNotFound indicates the requested translator is unavailable.
var ErrTranslatorNotFound = errors.New("translator not found")

// FieldErrors maps a field name to the messages of every rule it failed.
type FieldErrors map[string][]string

// Add appends a message to the field.
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Has reports whether the field has at least one message.
func (fe FieldErrors) Has(field string) bool {
	return len(fe[field]) > 0
}

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation error"
	}

	b, err := json.Marshal(fe)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

// Validator validates registration input using go-playground/validator v10
// for field syntax and a chain of password rules for password strength.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
	rules      []PasswordRule
}

// New constructs a Validator with English translations.
// DefaultPasswordRules is used when no rules are given.
func New(rules ...PasswordRule) (*Validator, error) {
	if len(rules) == 0 {
		rules = DefaultPasswordRules()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	if err := registerCustomValidation(validate, enTrans); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if err := enTrans.Add(rule.Tag, rule.Text, true); err != nil {
			return nil, fmt.Errorf("register password rule %q: %w", rule.Tag, err)
		}
	}

	return &Validator{
		validate:   validate,
		translator: enTrans,
		rules:      rules,
	}, nil
}

// Struct validates the `validate` tags of data and returns the first failed
// rule of every invalid field, or nil.
func (v *Validator) Struct(data any) FieldErrors {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var validateErrs validator.ValidationErrors
	if !errors.As(err, &validateErrs) {
		return FieldErrors{"non_field_errors": {err.Error()}}
	}

	fieldErrs := make(FieldErrors)
	for _, fe := range validateErrs {
		fieldErrs.Add(fe.Field(), fe.Translate(v.translator))
	}
	return fieldErrs
}

// Password runs every password rule and returns one message per failed rule.
// attrs are user attributes (username, email) the password must not resemble.
func (v *Validator) Password(password string, attrs ...string) []string {
	var msgs []string
	for _, rule := range v.rules {
		if rule.Check(password, attrs) {
			continue
		}
		msgs = append(msgs, v.Translate(rule.Tag, rule.Params...))
	}
	return msgs
}

// ValidateRegistration validates all registration fields.
// Password rules run only once the password passed its tag checks, and
// compare it only against username and email values that passed theirs.
func (v *Validator) ValidateRegistration(req models.RegisterRequest) FieldErrors {
	fieldErrs := v.Struct(req)
	if fieldErrs == nil {
		fieldErrs = make(FieldErrors)
	}

	if !fieldErrs.Has("password") {
		var attrs []string
		if !fieldErrs.Has("username") {
			attrs = append(attrs, req.Username)
		}
		if !fieldErrs.Has("email") {
			attrs = append(attrs, req.Email)
		}
		for _, msg := range v.Password(req.Password, attrs...) {
			fieldErrs.Add("password", msg)
		}
	}

	if len(fieldErrs) == 0 {
		return nil
	}
	return fieldErrs
}

// UniqueMessage returns the message reported when field's value is already taken.
func (v *Validator) UniqueMessage(field string) string {
	return v.Translate("already_exists", field)
}

// Translate renders a registered message key, falling back to the key itself.
func (v *Validator) Translate(key string, params ...string) string {
	msg, err := v.translator.T(key, params...)
	if err != nil {
		return key
	}
	return msg
}

func registerCustomValidation(validate *validator.Validate, enTrans ut.Translator) error {
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return err
	}
	if err := validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return reUsername.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}

	translations := map[string]string{
		"required": "{0} is required",
		"notblank": "{0} is required",
		"username": "{0} may contain only letters, numbers and @/./+/-/_ characters",
	}
	for tag, text := range translations {
		if err := validate.RegisterTranslation(tag, enTrans,
			func(ut ut.Translator) error {
				return ut.Add(tag, text, true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, err := ut.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Error()
				}
				return t
			},
		); err != nil {
			return err
		}
	}

	return enTrans.Add("already_exists", "A user with that {0} already exists.", true)
}
