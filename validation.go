package accounts

import (
	"html"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers without a country prefix.
const DefaultPhoneRegion = "US"

var textPolicy = bluemonday.StrictPolicy()

// singleLine rejects values that would break out of a mail header.
var singleLine = validation.Match(regexp.MustCompile(`^[^\r\n]*$`)).
	Error("must not contain line breaks")

// Normalize returns a copy of the request with the email lower cased, free
// text stripped of markup, defaults applied and the phone number in E.164
// when it can be parsed. Unparseable phone numbers are kept as is so that
// Validate can reject them.
func (r ProvisioningRequest) Normalize(region string) ProvisioningRequest {
	out := r
	out.Email = NormalizeEmail(r.Email)
	out.FullName = sanitizeText(r.FullName)
	out.AddressLine1 = sanitizeText(r.AddressLine1)
	out.AddressLine2 = sanitizeText(r.AddressLine2)
	out.City = sanitizeText(r.City)
	out.Country = strings.ToUpper(sanitizeText(r.Country))
	out.Role = Role(strings.ToLower(strings.TrimSpace(string(r.Role))))

	out.MembershipTier = strings.ToLower(strings.TrimSpace(r.MembershipTier))
	if out.MembershipTier == "" {
		out.MembershipTier = DefaultMembershipTier
	}

	out.MembershipStatus = strings.ToLower(strings.TrimSpace(r.MembershipStatus))
	if out.MembershipStatus == "" {
		out.MembershipStatus = DefaultMembershipStatus
	}

	if phone := strings.TrimSpace(r.Phone); phone != "" {
		out.Phone = phone
		if region == "" {
			region = DefaultPhoneRegion
		}
		if len(out.Country) == 2 {
			region = out.Country
		}
		if num, err := phonenumbers.Parse(phone, region); err == nil && phonenumbers.IsValidNumber(num) {
			out.Phone = phonenumbers.Format(num, phonenumbers.E164)
		}
	}

	return out
}

// Validate checks the mandatory fields. It performs no I/O.
func (r ProvisioningRequest) Validate() error {
	err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
			validation.Field(&r.FullName, validation.Required, validation.Length(1, 200), singleLine),
			validation.Field(&r.Role, validation.Required, validation.In(RoleMember, RoleAdministrator)),
			validation.Field(&r.MembershipTier, validation.Length(0, 50), singleLine),
			validation.Field(&r.MembershipStatus, validation.Length(0, 50), singleLine),
			validation.Field(&r.Phone, validation.By(validE164)),
			validation.Field(&r.AddressLine1, validation.Length(0, 200), singleLine),
			validation.Field(&r.AddressLine2, validation.Length(0, 200), singleLine),
			validation.Field(&r.City, validation.Length(0, 100), singleLine),
			validation.Field(&r.Country, validation.Length(0, 56), singleLine),
		)
	}, "invalid provisioning request")

	if err != nil {
		return err.WithTextCode(TextCodeValidationFailed).WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

// NormalizeEmail trims and lower cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validE164(value any) error {
	phone, _ := value.(string)
	if phone == "" {
		return nil
	}

	// Normalize already parsed the number in its own region, anything not
	// in E.164 by now failed there
	invalid := validation.NewError("validation_phone_invalid", "must be a valid phone number")
	if !strings.HasPrefix(phone, "+") {
		return invalid
	}

	num, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return invalid
	}
	if phonenumbers.Format(num, phonenumbers.E164) != phone {
		return invalid
	}
	return nil
}

func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}
