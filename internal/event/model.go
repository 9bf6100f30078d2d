package event

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire discriminators of a hit (field "e").
const (
	KindLoad   = "load"
	KindUnload = "unload"
)

const TypePageview = "pageview"

// LoadHit is sent by the tracker when a page (or a custom event) starts.
type LoadHit struct {
	Kind         string     `json:"e"`
	BeaconID     string     `json:"b"`
	URL          string     `json:"u"`
	IsUniqueUser bool       `json:"p"`
	IsUniquePage bool       `json:"q"`
	Type         string     `json:"a"`
	Referrer     *string    `json:"r,omitempty"`
	Timezone     *string    `json:"t,omitempty"`
	Data         Additional `json:"d,omitempty"`
}

// UnloadHit closes the page view started by the LoadHit with the same beacon id.
type UnloadHit struct {
	Kind       string `json:"e"`
	BeaconID   string `json:"b"`
	DurationMs int64  `json:"m"`
}

// Event is the normalized record of a load hit.
type Event struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BeaconID   string    `db:"bid" json:"bid"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`

	Host         string  `db:"host" json:"host"`
	Path         string  `db:"path" json:"path"`
	QueryString  *string `db:"query_string" json:"queryString"`
	IsUniqueUser bool    `db:"is_unique_user" json:"isUniqueUser"`
	IsUniquePage bool    `db:"is_unique_page" json:"isUniquePage"`
	Type         string  `db:"type" json:"type"`
	DurationMs   *int64  `db:"duration_ms" json:"durationMs"`
	Timezone     *string `db:"timezone" json:"timezone"`
	Country      *string `db:"country" json:"country"`

	UserAgent            *string `db:"user_agent" json:"userAgent"`
	BrowserName          *string `db:"browser_name" json:"browserName"`
	BrowserVersion       *string `db:"browser_version" json:"browserVersion"`
	BrowserEngineName    *string `db:"browser_engine_name" json:"browserEngineName"`
	BrowserEngineVersion *string `db:"browser_engine_version" json:"browserEngineVersion"`
	DeviceType           *string `db:"device_type" json:"deviceType"`
	DeviceVendor         *string `db:"device_vendor" json:"deviceVendor"`
	DeviceModel          *string `db:"device_model" json:"deviceModel"`
	CPUArchitecture      *string `db:"cpu_architecture" json:"cpuArchitecture"`
	OSName               *string `db:"os_name" json:"osName"`
	OSVersion            *string `db:"os_version" json:"osVersion"`

	Referrer                *string `db:"referrer" json:"referrer"`
	ReferrerHost            *string `db:"referrer_host" json:"referrerHost"`
	ReferrerPath            *string `db:"referrer_path" json:"referrerPath"`
	ReferrerQueryString     *string `db:"referrer_query_string" json:"referrerQueryString"`
	ReferrerKnown           *bool   `db:"referrer_known" json:"referrerKnown"`
	ReferrerMedium          *string `db:"referrer_medium" json:"referrerMedium"`
	ReferrerName            *string `db:"referrer_name" json:"referrerName"`
	ReferrerSearchParameter *string `db:"referrer_search_parameter" json:"referrerSearchParameter"`
	ReferrerSearchTerm      *string `db:"referrer_search_term" json:"referrerSearchTerm"`

	AcceptLanguage          *string `db:"accept_language" json:"acceptLanguage"`
	LanguageCode            *string `db:"language_code" json:"languageCode"`
	LanguageScript          *string `db:"language_script" json:"languageScript"`
	LanguageRegion          *string `db:"language_region" json:"languageRegion"`
	SecondaryLanguageCode   *string `db:"secondary_language_code" json:"secondaryLanguageCode"`
	SecondaryLanguageScript *string `db:"secondary_language_script" json:"secondaryLanguageScript"`
	SecondaryLanguageRegion *string `db:"secondary_language_region" json:"secondaryLanguageRegion"`

	UTMCampaign *string `db:"utm_campaign" json:"utmCampaign"`
	UTMMedium   *string `db:"utm_medium" json:"utmMedium"`
	UTMSource   *string `db:"utm_source" json:"utmSource"`

	Additional Additional `db:"additional" json:"additional"`
}

// DurationUpdate completes the event recorded for BeaconID.
type DurationUpdate struct {
	BeaconID   string `json:"bid"`
	DurationMs int64  `json:"durationMs"`
}

// Envelope carries either half of a page view through a queue.
type Envelope struct {
	Kind   string          `json:"kind"`
	Event  *Event          `json:"event,omitempty"`
	Update *DurationUpdate `json:"update,omitempty"`
}

// Additional is the free-form data attached to custom events. It is stored as JSON text.
type Additional map[string]any

func (a Additional) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
