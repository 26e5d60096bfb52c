package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// SyncAction selects what a SyncRequest does.
type SyncAction string

const (
	ActionSyncOne SyncAction = "sync-one"
	ActionSyncAll SyncAction = "sync-all"
)

// SyncRequest is the invocation payload accepted over HTTP and from the trigger topic.
// Name and Geometry are optional and only used when a polygon must be created
// for a parcel the catalogue does not yet carry geometry for.
type SyncRequest struct {
	Action   SyncAction      `json:"action" validate:"required,oneof=sync-one sync-all"`
	ParcelID string          `json:"parcelId,omitempty" validate:"required_if=Action sync-one,max=128"`
	Name     string          `json:"name,omitempty" validate:"omitempty,max=256"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// SyncResponse is the invocation result envelope.
type SyncResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ValidationError describes why a request was rejected.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the request shape and, when present, the geometry.
func (r SyncRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if len(r.Geometry) > 0 {
		if r.Action != ActionSyncOne {
			return &ValidationError{Problems: []string{"geometry is only accepted with sync-one"}}
		}
		if err := ValidateGeometry(r.Geometry); err != nil {
			return err
		}
	}
	return nil
}

// Parcel returns the parcel described by a sync-one request.
func (r SyncRequest) Parcel() Parcel {
	return Parcel{ID: r.ParcelID, Name: r.Name, Geometry: r.Geometry}
}

type geometryHeader struct {
	Type        string          `json:"type" validate:"required,oneof=Polygon MultiPolygon"`
	Coordinates json.RawMessage `json:"coordinates" validate:"required"`
}

// ValidateGeometry checks that raw is a GeoJSON Polygon or MultiPolygon geometry.
// The coordinates are passed to the upstream untouched.
func ValidateGeometry(raw json.RawMessage) error {
	var g geometryHeader
	if err := json.Unmarshal(raw, &g); err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("geometry: %v", err)}}
	}
	return validateStruct(g)
}

func validateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Problems: []string{err.Error()}}
	}

	problems := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		problems[i] = describeFieldError(fe)
	}
	return &ValidationError{Problems: problems}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
