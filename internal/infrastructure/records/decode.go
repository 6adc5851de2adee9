package records

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/mitchellh/mapstructure"
)

// Field names of the users table.
const (
	FieldFirstName          = "First Name"
	FieldLastName           = "Last Name"
	FieldCompany            = "Company"
	FieldRole               = "Role"
	FieldStatus             = "Status"
	FieldPasswordHash       = "Password Hash"
	FieldMustChangePassword = "Must Change Password"
	FieldMagicToken         = "Magic Token"
	FieldMagicTokenExpires  = "Magic Token Expires"
	FieldMagicLinkURL       = "Magic Link URL"
)

// EmailFields are the column names the email has been stored under across
// deployments, in lookup order.
var EmailFields = []string{"Email", "email", "Email Address", "Work Email"}

type userFields struct {
	FirstName          string `mapstructure:"First Name"`
	LastName           string `mapstructure:"Last Name"`
	Company            string `mapstructure:"Company"`
	Role               string `mapstructure:"Role"`
	Status             string `mapstructure:"Status"`
	PasswordHash       string `mapstructure:"Password Hash"`
	MustChangePassword bool   `mapstructure:"Must Change Password"`
	MagicToken         string `mapstructure:"Magic Token"`
	MagicLinkURL       string `mapstructure:"Magic Link URL"`
}

func decodeUser(rec *domain.Record) (*domain.User, error) {
	var f userFields
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(firstLinked),
		WeaklyTypedInput: true,
		Result:           &f,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(rec.Fields); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", rec.ID, err)
	}

	u := &domain.User{
		ID:                 rec.ID,
		Email:              recordEmail(rec),
		FirstName:          strings.TrimSpace(f.FirstName),
		LastName:           strings.TrimSpace(f.LastName),
		CompanyID:          strings.TrimSpace(f.Company),
		Role:               parseRole(f.Role),
		Status:             parseStatus(f.Status),
		PasswordHash:       f.PasswordHash,
		MustChangePassword: f.MustChangePassword,
		MagicToken:         strings.TrimSpace(f.MagicToken),
		MagicLinkURL:       strings.TrimSpace(f.MagicLinkURL),
	}
	if exp, ok := parseTime(rec.Fields[FieldMagicTokenExpires]); ok {
		u.MagicTokenExpiresAt = &exp
	}
	return u, nil
}

// Linked-record columns arrive as ["recXXX"]; take the first id.
func firstLinked(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Slice || to.Kind() != reflect.String {
		return data, nil
	}
	v := reflect.ValueOf(data)
	if v.Len() == 0 {
		return "", nil
	}
	return v.Index(0).Interface(), nil
}

func recordEmail(rec *domain.Record) string {
	for _, name := range EmailFields {
		if s, ok := rec.Fields[name].(string); ok && strings.TrimSpace(s) != "" {
			return domain.NormalizeEmail(s)
		}
	}
	return ""
}

// A missing or unrecognised status is treated as inactive.
func parseStatus(s string) domain.Status {
	if strings.EqualFold(strings.TrimSpace(s), "active") {
		return domain.StatusActive
	}
	return domain.StatusInactive
}

func parseRole(s string) domain.Role {
	if strings.EqualFold(strings.TrimSpace(s), "admin") {
		return domain.RoleAdmin
	}
	return domain.RoleClient
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"}

// parseTime accepts ISO strings and epoch milliseconds.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	case float64:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.UnixMilli(n), true
		}
	}
	return time.Time{}, false
}
