package validator

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Validator instance
var validate *validator.Validate

var (
	withdrawalMethods = []string{"bank_transfer", "stripe", "paypal"}
	orderStatuses     = []string{"ACCEPTED", "REJECTED", "COMPLETED", "CANCELLED"}
	currencies        = []string{"usd", "eur", "vnd", "kzt"}
)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimal.Decimal fields validate as float64 so gt/gte/lte work on them
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("withdrawal_method", oneOf(withdrawalMethods))
	validate.RegisterValidation("order_status", oneOf(orderStatuses))
	validate.RegisterValidation("payment_currency", oneOf(append([]string{""}, currencies...)))
	validate.RegisterValidation("decimal_scale", decimalScale)
}

// decimalScale rejects decimals with more fractional digits than the column
// stores. The custom type func hands validations a float64, so the original
// decimal is read back from the parent struct.
func decimalScale(fl validator.FieldLevel) bool {
	places, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return true
	}
	d, ok := parent.FieldByName(fl.StructFieldName()).Interface().(decimal.Decimal)
	if !ok {
		return true
	}
	return d.Equal(d.Truncate(int32(places)))
}

func oneOf(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, a := range allowed {
			if value == a {
				return true
			}
		}
		return false
	}
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "uuid":
			errors[field] = "Invalid UUID format"
		case "withdrawal_method":
			errors[field] = "Invalid method. Must be: " + strings.Join(withdrawalMethods, ", ")
		case "order_status":
			errors[field] = "Invalid status. Must be: " + strings.Join(orderStatuses, ", ")
		case "payment_currency":
			errors[field] = "Unsupported currency"
		case "decimal_scale":
			errors[field] = "At most " + err.Param() + " decimal places allowed"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
