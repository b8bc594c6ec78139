package presence

import "time"

// OnlineUser is the marker projection of another user's profile.
type OnlineUser struct {
	UID      string  `json:"uid"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	PhotoURL string  `json:"photo_url"`
}

type TrackPoint struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type change struct {
	UID   string `json:"uid"`
	Field string `json:"field"`
}
