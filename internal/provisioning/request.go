package provisioning

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/brokerdesk/backoffice/pkg/storage"
)

var (
	subdomainRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)
	themeColorRegex  = regexp.MustCompile(`^#?([0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	progressKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

	reservedSubdomains = map[string]bool{"www": true, "admin": true, "api": true, "app": true, "mail": true}
)

// Request is the provisioning form. Bound from JSON or multipart; the logo is
// attached separately by the handler.
type Request struct {
	CompanyName       string `json:"company_name" form:"company_name" validate:"required,max=255"`
	Subdomain         string `json:"subdomain" form:"subdomain" validate:"required,subdomain"`
	Domain            string `json:"domain" form:"domain" validate:"required,max=255,fqdn"`
	ContactEmail      string `json:"contact_email" form:"contact_email" validate:"required,max=255,email"`
	PlanID            string `json:"plan_id" form:"plan_id" validate:"required,uuid"`
	AdminFirstName    string `json:"admin_first_name" form:"admin_first_name" validate:"required,max=100"`
	AdminLastName     string `json:"admin_last_name" form:"admin_last_name" validate:"required,max=100"`
	AdminEmail        string `json:"admin_email" form:"admin_email" validate:"required,max=255,email"`
	ThemePrimaryColor string `json:"theme_primary_color" form:"theme_primary_color" validate:"omitempty,max=9,themecolor"`
	TrialDays         *int   `json:"trial_days" form:"trial_days" validate:"omitempty,min=0,max=90"`
	Timezone          string `json:"timezone" form:"timezone" validate:"omitempty,timezone"`
	Currency          string `json:"currency" form:"currency" validate:"omitempty,len=3,alpha"`
	ProgressKey       string `json:"progress_key" form:"progress_key" validate:"omitempty,max=128,progresskey"`

	Logo *Logo `json:"-" form:"-" validate:"-"`
}

// Logo is an uploaded branding image held in memory.
type Logo struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Normalize trims whitespace and canonicalises case-insensitive fields.
func (r *Request) Normalize() {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.Subdomain = strings.TrimSpace(r.Subdomain)
	r.Domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(r.Domain)), ".")
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
	r.PlanID = strings.TrimSpace(r.PlanID)
	r.AdminFirstName = strings.TrimSpace(r.AdminFirstName)
	r.AdminLastName = strings.TrimSpace(r.AdminLastName)
	r.AdminEmail = strings.TrimSpace(r.AdminEmail)
	r.ThemePrimaryColor = strings.TrimSpace(r.ThemePrimaryColor)
	r.Timezone = strings.TrimSpace(r.Timezone)
	r.Currency = strings.TrimSpace(r.Currency)
	r.ProgressKey = strings.TrimSpace(r.ProgressKey)
}

// NewValidator returns a validator with the provisioning rules registered and
// json field names in errors.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return subdomainRegex.MatchString(s) && !reservedSubdomains[s]
	})
	_ = v.RegisterValidation("themecolor", func(fl validator.FieldLevel) bool {
		return themeColorRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("progresskey", func(fl validator.FieldLevel) bool {
		return progressKeyRegex.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks every field rule and the logo. It never touches storage.
func Validate(v *validator.Validate, r *Request) *ValidationError {
	verr := &ValidationError{}
	if err := v.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.Add("request", err.Error())
			return verr
		}
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), fieldMessage(fe))
		}
	}
	if r.Logo != nil {
		if len(r.Logo.Data) > storage.MaxLogoFileSize {
			verr.Add("logo", "logo must not be larger than 2MB")
		} else if !storage.ValidateLogoType(r.Logo.ContentType, r.Logo.Filename) {
			verr.Add("logo", "logo must be a png, jpeg or webp image")
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	if fe.Field() == "trial_days" {
		return "must be between 0 and 90"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "fqdn":
		return "must be a valid domain name"
	case "uuid":
		return "must be a valid id"
	case "subdomain":
		return "must be 3-63 lowercase letters, digits or hyphens, not starting or ending with a hyphen, and not reserved"
	case "themecolor":
		return "must be a hex color of 6 or 8 digits"
	case "timezone":
		return "must be a valid IANA timezone"
	case "alpha":
		return "must contain letters only"
	case "progresskey":
		return "may contain letters, digits and . _ : - only"
	}
	return "is invalid"
}
