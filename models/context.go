package models

import "strconv"

// Context carries the gateway credentials and callback settings for one
// request. It is never persisted.
type Context struct {
	MerchantID           string `json:"mid"`
	TerminalID           string `json:"tid"`
	APIKey               string `json:"-"`
	BaseURL              string `json:"base_url"`
	PostbackURL          string `json:"postback_url"`
	PostbackDelaySeconds int    `json:"postback_delay"`
	// PostbackDelaySet marks an explicitly supplied delay, so Merge keeps a zero.
	PostbackDelaySet     bool   `json:"-"`
}

// MissingFields lists the names of required fields that are empty, in a stable order.
func (c Context) MissingFields() []string {
	var missing []string
	if c.MerchantID == "" {
		missing = append(missing, "MID")
	}
	if c.TerminalID == "" {
		missing = append(missing, "TID")
	}
	if c.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.PostbackURL == "" {
		missing = append(missing, "POSTBACK_URL")
	}
	return missing
}

// Merge fills every empty field of c from def. The delay counts as empty
// only when it was not explicitly supplied.
func (c Context) Merge(def Context) Context {
	if c.MerchantID == "" {
		c.MerchantID = def.MerchantID
	}
	if c.TerminalID == "" {
		c.TerminalID = def.TerminalID
	}
	if c.APIKey == "" {
		c.APIKey = def.APIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.PostbackURL == "" {
		c.PostbackURL = def.PostbackURL
	}
	if !c.PostbackDelaySet {
		c.PostbackDelaySeconds = def.PostbackDelaySeconds
		c.PostbackDelaySet = def.PostbackDelaySet
	}
	return c
}

func (c Context) String() string {
	// API key intentionally omitted
	return "mid=" + c.MerchantID + " tid=" + c.TerminalID + " base=" + c.BaseURL +
		" delay=" + strconv.Itoa(c.PostbackDelaySeconds)
}
