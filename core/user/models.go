package user

import (
	"strings"
	"time"

	"github.com/trezcool/quizbank/core"
)

type (
	// User mirrors a Clerk account. ID is the Clerk user id.
	User struct {
		ID               string    `json:"id"`
		Email            string    `json:"email"`
		Name             string    `json:"name"`
		ImageURL         string    `json:"image_url"`
		StripeCustomerID string    `json:"-"`
		CreatedAt        time.Time `json:"created_at"`
		UpdatedAt        time.Time `json:"updated_at"`
	}

	ClerkEmail struct {
		ID      string `json:"id"`
		Address string `json:"email_address"`
	}

	// ClerkUser is the user payload of Clerk `user.*` webhook events.
	ClerkUser struct {
		ID             string       `json:"id"`
		FirstName      string       `json:"first_name"`
		LastName       string       `json:"last_name"`
		ImageURL       string       `json:"image_url"`
		PrimaryEmailID string       `json:"primary_email_address_id"`
		Emails         []ClerkEmail `json:"email_addresses"`
	}
)

// PrimaryEmail returns the primary address, or the first one when no primary is set.
func (cu ClerkUser) PrimaryEmail() string {
	for _, e := range cu.Emails {
		if e.ID == cu.PrimaryEmailID {
			return core.CleanString(e.Address, true /* lower */)
		}
	}
	if len(cu.Emails) > 0 {
		return core.CleanString(cu.Emails[0].Address, true /* lower */)
	}
	return ""
}

func (cu ClerkUser) FullName() string {
	return strings.TrimSpace(core.CleanString(cu.FirstName) + " " + core.CleanString(cu.LastName))
}

// DisplayName is used in emails.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if i := strings.IndexByte(u.Email, '@'); i > 0 {
		return u.Email[:i]
	}
	return "there"
}
