package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role selects which profile collection owns a user.
type Role string

const (
	// RoleMember is a paying member, profile materialized by the store trigger
	RoleMember Role = "member"
	// RoleAdministrator is staff, profile inserted by the provisioning saga
	RoleAdministrator Role = "administrator"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleAdministrator:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

const (
	DefaultMembershipTier   = "standard"
	DefaultMembershipStatus = "active"
)

// Identity metadata keys. The profile store trigger reads role,
// membership_tier, membership_status, full_name and created_by_admin, plus
// the contact fields when present.
const (
	MetadataRole             = "role"
	MetadataMembershipTier   = "membership_tier"
	MetadataMembershipStatus = "membership_status"
	MetadataFullName         = "full_name"
	MetadataCreatedByAdmin   = "created_by_admin"
	MetadataPhone            = "phone"
	MetadataAddressLine1     = "address_line1"
	MetadataAddressLine2     = "address_line2"
	MetadataCity             = "city"
	MetadataCountry          = "country"
)

// ProvisioningRequest is the caller supplied payload for CreateUser.
type ProvisioningRequest struct {
	Email            string `json:"email" yaml:"email"`
	FullName         string `json:"full_name" yaml:"full_name"`
	Role             Role   `json:"role" yaml:"role"`
	MembershipTier   string `json:"membership_tier,omitempty" yaml:"membership_tier,omitempty"`
	MembershipStatus string `json:"membership_status,omitempty" yaml:"membership_status,omitempty"`
	Phone            string `json:"phone,omitempty" yaml:"phone,omitempty"`
	AddressLine1     string `json:"address_line1,omitempty" yaml:"address_line1,omitempty"`
	AddressLine2     string `json:"address_line2,omitempty" yaml:"address_line2,omitempty"`
	City             string `json:"city,omitempty" yaml:"city,omitempty"`
	Country          string `json:"country,omitempty" yaml:"country,omitempty"`
}

// IdentityMetadata builds the metadata bag attached to the identity record.
func (r ProvisioningRequest) IdentityMetadata() map[string]any {
	meta := map[string]any{
		MetadataRole:             r.Role.String(),
		MetadataMembershipTier:   r.MembershipTier,
		MetadataMembershipStatus: r.MembershipStatus,
		MetadataFullName:         r.FullName,
		MetadataCreatedByAdmin:   true,
	}

	contact := map[string]string{
		MetadataPhone:        r.Phone,
		MetadataAddressLine1: r.AddressLine1,
		MetadataAddressLine2: r.AddressLine2,
		MetadataCity:         r.City,
		MetadataCountry:      r.Country,
	}
	for k, v := range contact {
		if v != "" {
			meta[k] = v
		}
	}

	return meta
}

// Identity is the record held by the authentication store.
type Identity struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AdministratorProfile is the relational profile of a staff user
type AdministratorProfile struct {
	bun.BaseModel      `bun:"table:admin_profiles,alias:adm"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID         string     `bun:"identity_id,notnull,unique" json:"identity_id"`
	Email              string     `bun:"email,notnull,unique" json:"email"`
	FullName           string     `bun:"full_name,notnull" json:"full_name"`
	Role               Role       `bun:"role,notnull" json:"role"`
	AdminCode          string     `bun:"admin_code,notnull,unique" json:"admin_code"`
	Phone              string     `bun:"phone" json:"phone,omitempty"`
	MustChangePassword bool       `bun:"must_change_password" json:"must_change_password"`
	PasswordChangedAt  *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// MemberProfile is the relational profile of a member. Rows are created by
// the profile store trigger on identity insert.
type MemberProfile struct {
	bun.BaseModel      `bun:"table:member_profiles,alias:mbr"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID         string     `bun:"identity_id,notnull,unique" json:"identity_id"`
	Email              string     `bun:"email,notnull,unique" json:"email"`
	FullName           string     `bun:"full_name,notnull" json:"full_name"`
	Role               Role       `bun:"role,notnull" json:"role"`
	MemberCode         string     `bun:"member_code,notnull,unique" json:"member_code"`
	MembershipTier     string     `bun:"membership_tier,notnull" json:"membership_tier"`
	MembershipStatus   string     `bun:"membership_status,notnull" json:"membership_status"`
	Phone              string     `bun:"phone" json:"phone,omitempty"`
	AddressLine1       string     `bun:"address_line1" json:"address_line1,omitempty"`
	AddressLine2       string     `bun:"address_line2" json:"address_line2,omitempty"`
	City               string     `bun:"city" json:"city,omitempty"`
	Country            string     `bun:"country" json:"country,omitempty"`
	MustChangePassword bool       `bun:"must_change_password" json:"must_change_password"`
	PasswordChangedAt  *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Profile is a tagged variant over the two profile collections. Exactly one
// of Administrator or Member is set, matching Kind.
type Profile struct {
	Kind          Role                  `json:"kind"`
	Administrator *AdministratorProfile `json:"administrator,omitempty"`
	Member        *MemberProfile        `json:"member,omitempty"`
}

// AdministratorVariant wraps an administrator profile.
func AdministratorVariant(p *AdministratorProfile) Profile {
	return Profile{Kind: RoleAdministrator, Administrator: p}
}

// MemberVariant wraps a member profile.
func MemberVariant(p *MemberProfile) Profile {
	return Profile{Kind: RoleMember, Member: p}
}

// IsZero reports an empty variant.
func (p Profile) IsZero() bool {
	return p.Administrator == nil && p.Member == nil
}

func (p Profile) IdentityID() string {
	switch {
	case p.Administrator != nil:
		return p.Administrator.IdentityID
	case p.Member != nil:
		return p.Member.IdentityID
	}
	return ""
}

func (p Profile) Email() string {
	switch {
	case p.Administrator != nil:
		return p.Administrator.Email
	case p.Member != nil:
		return p.Member.Email
	}
	return ""
}

func (p Profile) FullName() string {
	switch {
	case p.Administrator != nil:
		return p.Administrator.FullName
	case p.Member != nil:
		return p.Member.FullName
	}
	return ""
}

// Code returns the human readable ADM-/MBR- code.
func (p Profile) Code() string {
	switch {
	case p.Administrator != nil:
		return p.Administrator.AdminCode
	case p.Member != nil:
		return p.Member.MemberCode
	}
	return ""
}

func (p Profile) MustChangePassword() bool {
	switch {
	case p.Administrator != nil:
		return p.Administrator.MustChangePassword
	case p.Member != nil:
		return p.Member.MustChangePassword
	}
	return false
}

func (p Profile) PasswordChangedAt() *time.Time {
	switch {
	case p.Administrator != nil:
		return p.Administrator.PasswordChangedAt
	case p.Member != nil:
		return p.Member.PasswordChangedAt
	}
	return nil
}

// TemporaryCredential is the plaintext secret handed back once to the
// provisioning caller. It is never persisted.
type TemporaryCredential struct {
	Secret    string `json:"secret"`
	SingleUse bool   `json:"single_use"`
}

// String keeps the secret out of logs and fmt output.
func (c TemporaryCredential) String() string {
	if c.Secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// ProvisioningResult is returned by a successful CreateUser.
type ProvisioningResult struct {
	IdentityID string              `json:"identity_id"`
	Profile    Profile             `json:"profile"`
	Credential TemporaryCredential `json:"credential"`
}

// WelcomeNotification carries everything a dispatcher needs for the
// welcome message.
type WelcomeNotification struct {
	IdentityID     string
	Email          string
	FullName       string
	Role           Role
	MembershipTier string
	Code           string
	Secret         string
}

// IdentityDeletionStatus reports what happened to the identity record
// during deprovisioning.
type IdentityDeletionStatus string

const (
	IdentityDeleted IdentityDeletionStatus = "deleted"
	IdentityAbsent  IdentityDeletionStatus = "absent"
	IdentityFailed  IdentityDeletionStatus = "failed"
)

// CleanupOutcome is the result of one DependentResourceCleaner run.
type CleanupOutcome struct {
	Resource string `json:"resource"`
	Affected int64  `json:"affected"`
	Err      error  `json:"-"`
}

// Failed reports whether the cleaner returned an error.
func (o CleanupOutcome) Failed() bool {
	return o.Err != nil
}

// DeletionSummary describes a single deprovisioning run.
type DeletionSummary struct {
	IdentityID     string                 `json:"identity_id"`
	ProfileKind    Role                   `json:"profile_kind"`
	IdentityStatus IdentityDeletionStatus `json:"identity_status"`
	Cleanup        []CleanupOutcome       `json:"cleanup"`
	// Warning is a PARTIAL_CLEANUP_FAILURE error when any cleaner failed.
	Warning error `json:"-"`
}

// BulkDeletionSummary describes a bulk deprovisioning run.
type BulkDeletionSummary struct {
	Requested          int              `json:"requested"`
	Deleted            int              `json:"deleted"`
	DeletedIDs         []string         `json:"deleted_ids"`
	NotFound           []string         `json:"not_found,omitempty"`
	ResidualIdentities map[string]error `json:"-"`
	Cleanup            []CleanupOutcome `json:"cleanup"`
	Warning            error            `json:"-"`
}

// HasWarnings reports residual identities or failed cleaners.
func (s BulkDeletionSummary) HasWarnings() bool {
	return s.Warning != nil || len(s.ResidualIdentities) > 0
}
