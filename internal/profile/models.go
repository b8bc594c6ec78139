package profile

import "time"

// Profile is the users/{uid} record as the profile screen sees it.
type Profile struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Online    bool      `json:"online"`
	Lat       *float64  `json:"lat,omitempty"`
	Lng       *float64  `json:"lng,omitempty"`
	PhotoURL  string    `json:"photo_url"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type SaveRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PasswordRequest struct {
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

// PhotoKey is where a user's profile photo is stored.
func PhotoKey(uid string) string {
	return "profilePhotos/" + uid + ".jpg"
}
