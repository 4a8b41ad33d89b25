package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

type gearEntry struct {
	UUID            string  `json:"uuid"`
	DisplayName     string  `json:"displayName"`
	CustomMakeModel string  `json:"customMakeModel"`
	GearMakeName    string  `json:"gearMakeName"`
	GearTypeName    string  `json:"gearTypeName"`
	DateBegin       string  `json:"dateBegin"`
	DateEnd         string  `json:"dateEnd"`
	MaximumMeters   float64 `json:"maximumMeters"`
}

var gearTypes = map[string]provider.GearType{
	"shoes":   provider.GearShoes,
	"bike":    provider.GearBike,
	"insoles": provider.GearInsole,
}

func mapGear(g gearEntry) provider.MappedGear {
	label := g.DisplayName
	if label == "" {
		label = g.CustomMakeModel
	}
	name, code := provider.ParseGearName(label)

	gearType, ok := gearTypes[strings.ToLower(g.GearTypeName)]
	if !ok {
		gearType = provider.GearOther
	}
	brand := g.GearMakeName
	if strings.EqualFold(brand, "other") {
		brand = ""
	}

	raw, _ := json.Marshal(g)
	m := provider.MappedGear{
		Provider:       provider.Garmin,
		ProviderGearID: g.UUID,
		Name:           name,
		Code:           code,
		Brand:          brand,
		Type:           gearType,
		Raw:            raw,
	}
	if t, err := parseGMT(g.DateBegin); err == nil {
		m.DateBegin = &t
	}
	if t, err := parseGMT(g.DateEnd); err == nil {
		m.DateEnd = &t
	}
	if g.MaximumMeters > 0 {
		limit := g.MaximumMeters
		m.MaximumDistance = &limit
	}
	return m
}

// SyncGears lists every gear item of the connected profile
func (c *Client) SyncGears(ctx context.Context) ([]provider.MappedGear, error) {
	profileID, err := c.profile()
	if err != nil {
		return nil, err
	}

	var entries []gearEntry
	err = c.api.DoJSON(ctx, transport.Request{
		Operation: metrics.OpListGears,
		Method:    http.MethodGet,
		Path:      "/gear-service/gear/filterGear",
		Query:     url.Values{"userProfilePk": {profileID}},
	}, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to list gears: %w", err)
	}

	gears := make([]provider.MappedGear, 0, len(entries))
	for _, g := range entries {
		if g.UUID == "" {
			continue
		}
		gears = append(gears, mapGear(g))
	}
	c.logger.Info("Listed gears", "count", len(gears))
	return gears, nil
}

// LinkActivityGear adds a gear item to an activity
func (c *Client) LinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.updateGear(ctx, "link", activityID, gearID, metrics.OpLinkGear); err != nil {
		return fmt.Errorf("failed to link gear %s to activity %s: %w", gearID, activityID, err)
	}
	return nil
}

// UnlinkActivityGear removes a gear item from an activity
func (c *Client) UnlinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.updateGear(ctx, "unlink", activityID, gearID, metrics.OpUnlinkGear); err != nil {
		return fmt.Errorf("failed to unlink gear %s from activity %s: %w", gearID, activityID, err)
	}
	return nil
}

func (c *Client) updateGear(ctx context.Context, action, activityID, gearID, op string) error {
	if _, err := c.profile(); err != nil {
		return err
	}
	_, err := c.api.Do(ctx, transport.Request{
		Operation: op,
		Method:    http.MethodPut,
		Path:      "/gear-service/gear/" + action + "/" + url.PathEscape(gearID) + "/activity/" + url.PathEscape(activityID),
	})
	if err != nil {
		return err
	}
	c.logger.Info("Updated activity gear", "action", action, "activity_id", activityID, "gear_id", gearID)
	return nil
}
