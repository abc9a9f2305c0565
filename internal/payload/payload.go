// Package payload defines one request type per operation kind. Every payload
// is checked against its schema before the authorization gate sees it.
package payload

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/orozarna/internal/apperr"
	"github.com/erazemk/orozarna/internal/model"
)

// Payload is a request body bound to the operation it performs.
type Payload interface {
	Operation() model.Operation
}

// Quantities are sub-resources handed out with an item.
type Quantities struct {
	Magazines int `json:"magazines" validate:"gte=0,lte=1000"`
	Rounds    int `json:"rounds"    validate:"gte=0,lte=100000"`
}

// Model converts the payload quantities.
func (q Quantities) Model() model.Quantities {
	return model.Quantities{Magazines: q.Magazines, Rounds: q.Rounds}
}

// TakeCustody issues an item. Refs are serials or credential token
// reference IDs read from a badge or tag.
type TakeCustody struct {
	ItemRef        string     `json:"item_ref"        validate:"required,max=64"`
	PersonnelRef   string     `json:"personnel_ref"   validate:"required,max=64"`
	Quantities     Quantities `json:"quantities"`
	IdempotencyKey string     `json:"idempotency_key" validate:"omitempty,max=128,printascii"`
	Notes          string     `json:"notes"           validate:"max=500"`
}

func (TakeCustody) Operation() model.Operation { return model.OpCreateCustodyTransaction }

// ReturnCustody returns an issued item.
type ReturnCustody struct {
	ItemRef      string     `json:"item_ref"      validate:"required,max=64"`
	PersonnelRef string     `json:"personnel_ref" validate:"required,max=64"`
	Quantities   Quantities `json:"quantities"`
	Notes        string     `json:"notes"        validate:"max=500"`
}

func (ReturnCustody) Operation() model.Operation { return model.OpCreateCustodyTransaction }

// RegisterPersonnel creates a personnel record with an allocated serial.
type RegisterPersonnel struct {
	Name           string `json:"name"           validate:"required,max=200"`
	Rank           string `json:"rank"           validate:"max=50"`
	Classification string `json:"classification" validate:"required,oneof=enlisted officer superuser"`
}

func (RegisterPersonnel) Operation() model.Operation { return model.OpModifyPersonnel }

// UpdatePersonnel edits a personnel record's descriptive fields.
type UpdatePersonnel struct {
	Name string `json:"name" validate:"required,max=200"`
	Rank string `json:"rank" validate:"max=50"`
}

func (UpdatePersonnel) Operation() model.Operation { return model.OpModifyPersonnel }

// RegisterItem creates an item with an allocated serial.
type RegisterItem struct {
	Kind        string `json:"kind"        validate:"required,oneof=weapon magazine ammunition_lot"`
	Name        string `json:"name"        validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (RegisterItem) Operation() model.Operation { return model.OpModifyItem }

// UpdateItem edits an item. An empty status keeps the current one; custody
// status is never set this way.
type UpdateItem struct {
	Name        string `json:"name"        validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Status      string `json:"status"      validate:"omitempty,oneof=available maintenance retired"`
}

func (UpdateItem) Operation() model.Operation { return model.OpModifyItem }

// ImportLegacy brings in a record that already has a serial.
type ImportLegacy struct {
	EntityType     string `json:"entity_type"    validate:"required,oneof=personnel item"`
	Serial         string `json:"serial"         validate:"required,max=64,ident"`
	Name           string `json:"name"           validate:"required,max=200"`
	Rank           string `json:"rank"           validate:"max=50"`
	Classification string `json:"classification" validate:"omitempty,oneof=enlisted officer superuser"`
	Kind           string `json:"kind"           validate:"omitempty,oneof=weapon magazine ammunition_lot"`
	Description    string `json:"description"    validate:"max=2000"`
}

func (ImportLegacy) Operation() model.Operation { return model.OpAdminFunctions }

// CreateUser creates an operator account.
type CreateUser struct {
	Username    string `json:"username"     validate:"required,min=3,max=64,ident"`
	Password    string `json:"password"     validate:"required,min=8,max=72"`
	Role        string `json:"role"         validate:"required,oneof=admin armorer commander personnel"`
	PersonnelID *int64 `json:"personnel_id" validate:"omitempty,gt=0"`
}

func (CreateUser) Operation() model.Operation { return model.OpAdminFunctions }

var validate = newValidator()

// identPattern matches serials and usernames.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		return identPattern.MatchString(fl.Field().String())
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(ImportLegacy)
		switch {
		case p.EntityType == model.EntityPersonnel && p.Classification == "":
			sl.ReportError(p.Classification, "classification", "Classification", "required_for_personnel", "")
		case p.EntityType == model.EntityItem && p.Kind == "":
			sl.ReportError(p.Kind, "kind", "Kind", "required_for_item", "")
		}
	}, ImportLegacy{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(CreateUser)
		if p.Role == model.RolePersonnel && p.PersonnelID == nil {
			sl.ReportError(p.PersonnelID, "personnel_id", "PersonnelID", "required_for_personnel_role", "")
		}
	}, CreateUser{})

	return v
}

// Validate checks p against its schema and returns a Validation error
// naming the first offending field.
func Validate(p Payload) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), reflect.TypeOf(p).Name()+".")
		if fe.Param() != "" {
			return apperr.Wrap(apperr.Validation, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()), err)
		}
		return apperr.Wrap(apperr.Validation, fmt.Sprintf("%s: failed %s", field, fe.Tag()), err)
	}
	return apperr.Wrap(apperr.Validation, "invalid payload", err)
}
