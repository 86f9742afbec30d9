package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxInputRunes bounds a single user message sent upstream.
const MaxInputRunes = 4000

var ErrInvalidRequest = errors.New("invalid request")

// Validator checks a Request before any outbound call is made.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("maxrunes", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= MaxInputRunes
	})
	return &Validator{v: v}
}

type requestRules struct {
	ChatID string `validate:"required"`
	UserID string `validate:"required"`
	Text   string `validate:"required,maxrunes"`
}

// Validate reports the first failing field wrapped in ErrInvalidRequest.
func (v *Validator) Validate(req Request) error {
	err := v.v.Struct(requestRules{
		ChatID: req.ChatID,
		UserID: req.UserID,
		Text:   strings.TrimSpace(req.Text),
	})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s failed %s", ErrInvalidRequest, verrs[0].Field(), verrs[0].Tag())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// TooLong reports whether err is a length violation worth telling the user.
func TooLong(err error) bool {
	return errors.Is(err, ErrInvalidRequest) && strings.Contains(err.Error(), "maxrunes")
}
