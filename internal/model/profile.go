package model

// OAuthProfile is the normalized user profile an OAuth strategy hands back
// after a successful code exchange. Field shapes follow the common
// "profile" convention: multiple emails each with a verified flag, and a
// list of photos.
type OAuthProfile struct {
	Provider    Provider       `json:"provider"`
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Username    string         `json:"username,omitempty"`
	Emails      []ProfileEmail `json:"emails"`
	Photos      []ProfilePhoto `json:"photos"`
}

type ProfileEmail struct {
	Value    string `json:"value"`
	Verified bool   `json:"verified"`
}

type ProfilePhoto struct {
	Value string `json:"value"`
}

// SelectEmail picks the first verified email, falling back to the first
// email of any kind. Returns "" when the profile carries no email.
func (p *OAuthProfile) SelectEmail() string {
	for _, e := range p.Emails {
		if e.Verified && e.Value != "" {
			return NormalizeEmail(e.Value)
		}
	}
	for _, e := range p.Emails {
		if e.Value != "" {
			return NormalizeEmail(e.Value)
		}
	}
	return ""
}

// PhotoURL returns the first photo, or "".
func (p *OAuthProfile) PhotoURL() string {
	for _, ph := range p.Photos {
		if ph.Value != "" {
			return ph.Value
		}
	}
	return ""
}

// PreferredName is the display name, falling back to the provider login.
func (p *OAuthProfile) PreferredName() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
