package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ID identifies an external fitness-tracking provider
type ID string

const (
	Strava ID = "strava"
	Garmin ID = "garmin"
	Coros  ID = "coros"
)

// ParseID validates a provider identifier
func ParseID(s string) (ID, error) {
	switch id := ID(s); id {
	case Strava, Garmin, Coros:
		return id, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

var (
	// ErrAuthentication means credentials were rejected or the session expired
	// with no way to refresh it. Never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotSupported is returned by adapters for operations the provider lacks
	ErrNotSupported = errors.New("not implemented")

	// ErrNotInitialized is returned when a provider was never registered or connected
	ErrNotInitialized = errors.New("provider not initialized")

	// ErrMapping means a provider payload lacks fields required for a canonical record
	ErrMapping = errors.New("unable to map provider payload")
)

// Credentials carries either a username/password pair or an OAuth refresh
// token with its client configuration, depending on the provider.
type Credentials struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	RedirectURI  string `yaml:"redirect_uri"`
}

// HasPassword reports whether a username/password pair is present
func (c Credentials) HasPassword() bool {
	return c.Username != "" && c.Password != ""
}

// HasOAuth reports whether a refresh token and client credentials are present
func (c Credentials) HasOAuth() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// Checkpoint marks where the previous sync stopped.
// Since is used by time-filtered providers, LastID by id-boundary paging.
// The zero value requests a full sync.
type Checkpoint struct {
	Since  time.Time
	LastID string
}

// IsZero reports whether the checkpoint requests a full sync
func (c Checkpoint) IsZero() bool {
	return c.Since.IsZero() && c.LastID == ""
}

// ActivityType is the canonical activity classification
type ActivityType string

const (
	TypeRun      ActivityType = "RUN"
	TypeBike     ActivityType = "BIKE"
	TypeSwim     ActivityType = "SWIM"
	TypeWalk     ActivityType = "WALK"
	TypeHike     ActivityType = "HIKE"
	TypeSki      ActivityType = "SKI"
	TypeStrength ActivityType = "STRENGTH"
	TypeOther    ActivityType = "OTHER"
)

// ActivitySubtype refines an ActivityType
type ActivitySubtype string

const (
	SubtypeNone        ActivitySubtype = ""
	SubtypeRoad        ActivitySubtype = "ROAD"
	SubtypeTrail       ActivitySubtype = "TRAIL"
	SubtypeTrack       ActivitySubtype = "TRACK"
	SubtypeIndoor      ActivitySubtype = "INDOOR"
	SubtypeVirtual     ActivitySubtype = "VIRTUAL"
	SubtypeMountain    ActivitySubtype = "MOUNTAIN"
	SubtypeGravel      ActivitySubtype = "GRAVEL"
	SubtypePool        ActivitySubtype = "POOL"
	SubtypeOpenWater   ActivitySubtype = "OPEN_WATER"
	SubtypeBackcountry ActivitySubtype = "BACKCOUNTRY"
)

// Activity is the canonical activity shape
type Activity struct {
	Name            string          `json:"name"`
	StartTime       int64           `json:"start_time"` // epoch ms
	Timezone        string          `json:"timezone"`
	Distance        float64         `json:"distance"` // meters
	Duration        float64         `json:"duration"` // seconds
	Manufacturer    string          `json:"manufacturer,omitempty"`
	LocationName    string          `json:"location_name,omitempty"`
	LocationCountry string          `json:"location_country,omitempty"`
	StartLatitude   *float64        `json:"start_latitude,omitempty"`
	StartLongitude  *float64        `json:"start_longitude,omitempty"`
	Type            ActivityType    `json:"type"`
	Subtype         ActivitySubtype `json:"subtype,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	IsEvent         bool            `json:"is_event"`
}

// Start returns the start instant in UTC
func (a Activity) Start() time.Time {
	return time.UnixMilli(a.StartTime).UTC()
}

// MappedActivity is a provider activity translated to the canonical shape
type MappedActivity struct {
	Activity

	Provider           ID              `json:"provider"`
	ProviderActivityID string          `json:"provider_activity_id"`
	Original           bool            `json:"original"`
	Raw                json.RawMessage `json:"-"`
	Gears              []MappedGear    `json:"gears,omitempty"`
}

// GearType is the canonical gear classification
type GearType string

const (
	GearShoes  GearType = "SHOES"
	GearInsole GearType = "INSOLE"
	GearBike   GearType = "BIKE"
	GearOther  GearType = "OTHER"
)

// MappedGear is a provider gear item translated to the canonical shape
type MappedGear struct {
	Provider        ID              `json:"provider"`
	ProviderGearID  string          `json:"provider_gear_id"`
	Name            string          `json:"name"`
	Code            string          `json:"code,omitempty"`
	Brand           string          `json:"brand,omitempty"`
	Type            GearType        `json:"type"`
	DateBegin       *time.Time      `json:"date_begin,omitempty"`
	DateEnd         *time.Time      `json:"date_end,omitempty"`
	MaximumDistance *float64        `json:"maximum_distance,omitempty"` // meters
	Raw             json.RawMessage `json:"-"`
}

// ItemError records a single activity that could not be fetched or mapped
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Batch is the result of an incremental sync. Failures are the normal
// partial-success case, not an error.
type Batch struct {
	Activities []MappedActivity
	Failures   []ItemError
}

// Client is implemented once per provider
type Client interface {
	ID() ID

	// Connect establishes a session or fails with ErrAuthentication
	Connect(ctx context.Context, creds Credentials) error

	// Sync returns activities newer than the checkpoint. Safe to repeat.
	Sync(ctx context.Context, checkpoint Checkpoint) (*Batch, error)

	// SyncActivity fetches and maps a single activity
	SyncActivity(ctx context.Context, activityID string) (*MappedActivity, error)

	SyncGears(ctx context.Context) ([]MappedGear, error)

	LinkActivityGear(ctx context.Context, activityID, gearID string) error
	UnlinkActivityGear(ctx context.Context, activityID, gearID string) error

	// DownloadActivity writes the provider's native export for the activity to path
	DownloadActivity(ctx context.Context, activityID, path string) error

	// UploadActivity imports a raw activity file and returns the new provider id
	UploadActivity(ctx context.Context, filePath string) (string, error)

	// CreateManualActivity pushes a locally created activity and returns its provider id
	CreateManualActivity(ctx context.Context, activity Activity) (string, error)
}
