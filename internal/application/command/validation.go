// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// validate is shared by every command; validator caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs the struct tags of cmd and returns a shared.ErrValidation
// error naming every failing field.
func validateCommand(op string, cmd interface{}) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return shared.WrapError("command", op, shared.ErrValidation, "invalid command", err)
	}

	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s (%s=%s)", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	sort.Strings(fields)

	return shared.NewDomainError("command", op, shared.ErrValidation,
		"invalid fields: "+strings.Join(fields, ", "))
}

// Clock returns the current time. Handlers take one so tests can pin "now".
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
