package resource

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the vlan, vlanlist and
// cliline tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("vlan", func(fl validator.FieldLevel) bool {
			return IsVLAN(fl.Field().String())
		})
		_ = validate.RegisterValidation("vlanlist", func(fl validator.FieldLevel) bool {
			return IsVLANList(fl.Field().String())
		})
		_ = validate.RegisterValidation("cliline", func(fl validator.FieldLevel) bool {
			return IsCLILine(fl.Field().String())
		})
	})
	return validate
}

// Validate checks a record against its struct tags.
func Validate(r Record) error {
	if r == nil {
		return errors.New("record is nil")
	}

	err := Validator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid %s %q: %s", r.Family(), r.ResourceName(), strings.Join(msgs, "; "))
}

// IsCLILine reports whether s can be passed as a free-text CLI argument and
// read back unchanged: a single line, not blank, without surrounding space.
func IsCLILine(s string) bool {
	return s != "" && strings.TrimSpace(s) == s && !strings.ContainsAny(s, "\r\n")
}
