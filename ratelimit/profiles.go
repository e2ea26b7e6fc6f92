// Package ratelimit implements named fixed-window rate-limit profiles on top
// of a shared counter store.
package ratelimit

import "time"

// Built-in profile names
const (
	ProfileAuth       = "auth"
	ProfileContact    = "contact"
	ProfileNewsletter = "newsletter"
	ProfileUpload     = "upload"
	ProfileSearch     = "search"
	ProfileAPI        = "api"
)

// Profile is an immutable limiter policy. Profiles are resolved by name at
// construction time and never change at runtime.
type Profile struct {
	// Name identifies the profile and namespaces its counter keys
	Name string

	// Window is the fixed counting window
	Window time.Duration

	// Max is the number of requests allowed per key per window
	Max int

	// SkipSuccessful refunds the hit when the request succeeds, so only
	// failures count toward the limit (used by the auth profile).
	SkipSuccessful bool

	// Message overrides the user-facing rejection message. Empty uses the
	// taxonomy default for rate-limit errors.
	Message string
}

// defaults holds the built-in profiles
var defaults = map[string]Profile{
	ProfileAuth:       {Name: ProfileAuth, Window: 15 * time.Minute, Max: 5, SkipSuccessful: true, Message: "Too many login attempts. Please try again in 15 minutes."},
	ProfileContact:    {Name: ProfileContact, Window: time.Hour, Max: 3, Message: "Too many contact form submissions. Please try again later."},
	ProfileNewsletter: {Name: ProfileNewsletter, Window: 24 * time.Hour, Max: 5, Message: "Too many newsletter signups. Please try again tomorrow."},
	ProfileUpload:     {Name: ProfileUpload, Window: time.Hour, Max: 10, Message: "Too many uploads. Please try again later."},
	ProfileSearch:     {Name: ProfileSearch, Window: time.Minute, Max: 30, Message: "Too many searches. Please slow down."},
	ProfileAPI:        {Name: ProfileAPI, Window: 15 * time.Minute, Max: 1000, Message: "Too many requests. Please try again later."},
}

// Override replaces parts of a built-in profile. Zero fields keep the
// built-in value.
type Override struct {
	Window time.Duration
	Max    int
}

// Lookup resolves a built-in profile by name, applying the override when one
// is given. Unknown names resolve to the api profile, the most permissive
// built-in, so a typo can never produce an unlimited route.
func Lookup(name string, overrides map[string]Override) Profile {
	p, ok := defaults[name]
	if !ok {
		p = defaults[ProfileAPI]
	}
	if o, ok := overrides[name]; ok {
		if o.Window > 0 {
			p.Window = o.Window
		}
		if o.Max > 0 {
			p.Max = o.Max
		}
	}
	return p
}
