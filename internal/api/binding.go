package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/query"
)

var registerOnce sync.Once

// registerValidators installs the custom tags on gin's validator engine:
// isodate (parseable ISO-8601 timestamp), metric (catalogue member) and
// userid (non-blank, no slashes or whitespace).
func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}

	var err error
	registerOnce.Do(func() {
		v.RegisterTagNameFunc(fieldName)
		err = errors.Join(
			v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
				_, err := query.ParseTimestamp(fl.Field().String())
				return err == nil
			}),
			v.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
				return models.MetricType(fl.Field().String()).IsValid()
			}),
			v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
				id := fl.Field().String()
				return strings.TrimSpace(id) != "" && !strings.ContainsAny(id, "/ \t\n")
			}),
		)
	})
	return err
}

// bindingMessage turns a bind failure into the detail shown to callers.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("Invalid request: %v", err)
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "isodate":
		return fmt.Sprintf("%s must be ISO 8601 format", field)
	case "metric":
		return fmt.Sprintf("Unknown metric '%v'", fe.Value())
	case "userid":
		return fmt.Sprintf("%s must not be blank or contain slashes or whitespace", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// fieldName reports fields by their wire name so messages match the
// request parameters.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}
