package session

import (
	"fmt"
	"net/url"
	"strings"

	internal "github.com/ZanzyTHEbar/parley/parley"
	"github.com/google/uuid"
)

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg"

// User is the signed-in account as shown in the view.
type User struct {
	Email          string
	Name           string
	ProfilePicture string
}

// ProfileUpdate holds the editable profile fields. Nil fields are left as they are.
type ProfileUpdate struct {
	Name           *string
	ProfilePicture *string
}

// AvatarURL returns a generated avatar for seed.
func AvatarURL(seed string) string {
	return fmt.Sprintf("%s?seed=%s", avatarBaseURL, url.QueryEscape(seed))
}

// RandomAvatarURL returns a generated avatar with a fresh seed.
func RandomAvatarURL() string {
	return AvatarURL(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// defaultUser is the profile seeded on the first login of an account.
func defaultUser(email string) User {
	return User{
		Email:          email,
		Name:           internal.DefaultDisplayName,
		ProfilePicture: AvatarURL(strings.ReplaceAll(internal.DefaultDisplayName, " ", "")),
	}
}

func (u User) apply(update ProfileUpdate) User {
	if update.Name != nil {
		u.Name = strings.TrimSpace(*update.Name)
	}
	if update.ProfilePicture != nil {
		u.ProfilePicture = strings.TrimSpace(*update.ProfilePicture)
	}
	return u
}
