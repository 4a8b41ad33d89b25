package coros

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"activity-provider-sync/internal/metrics"
	"activity-provider-sync/internal/provider"
	"activity-provider-sync/internal/provider/transport"
)

// Coros equipment types
const (
	equipmentShoes = 1
	equipmentBike  = 2
)

type equipment struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Brand         string  `json:"brand"`
	Type          int     `json:"type"`
	StartDay      int     `json:"startDay"`  // YYYYMMDD
	RetireDay     int     `json:"retireDay"` // YYYYMMDD, zero while active
	DistanceLimit float64 `json:"distanceLimit"`
}

func parseDay(day int) *time.Time {
	if day == 0 {
		return nil
	}
	t, err := time.Parse(dayLayout, strconv.Itoa(day))
	if err != nil {
		return nil
	}
	return &t
}

func mapEquipment(e equipment) provider.MappedGear {
	name, code := provider.ParseGearName(e.Name)

	gearType := provider.GearOther
	switch e.Type {
	case equipmentShoes:
		gearType = provider.GearShoes
	case equipmentBike:
		gearType = provider.GearBike
	}

	raw, _ := json.Marshal(e)
	m := provider.MappedGear{
		Provider:       provider.Coros,
		ProviderGearID: e.ID,
		Name:           name,
		Code:           code,
		Brand:          e.Brand,
		Type:           gearType,
		DateBegin:      parseDay(e.StartDay),
		DateEnd:        parseDay(e.RetireDay),
		Raw:            raw,
	}
	if e.DistanceLimit > 0 {
		limit := e.DistanceLimit
		m.MaximumDistance = &limit
	}
	return m
}

// SyncGears lists every equipment item of the account
func (c *Client) SyncGears(ctx context.Context) ([]provider.MappedGear, error) {
	if err := c.session(); err != nil {
		return nil, err
	}

	var items []equipment
	err := c.call(ctx, transport.Request{
		Operation: metrics.OpListGears,
		Method:    http.MethodGet,
		Path:      "/equipment/list",
	}, &items)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}

	gears := make([]provider.MappedGear, 0, len(items))
	for _, e := range items {
		if e.ID == "" {
			continue
		}
		gears = append(gears, mapEquipment(e))
	}
	c.logger.Info("Listed gears", "count", len(gears))
	return gears, nil
}

// LinkActivityGear binds an equipment item to an activity
func (c *Client) LinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.bind(ctx, "/equipment/activity/bind", activityID, gearID, metrics.OpLinkGear); err != nil {
		return fmt.Errorf("failed to link gear %s to activity %s: %w", gearID, activityID, err)
	}
	return nil
}

// UnlinkActivityGear unbinds an equipment item from an activity
func (c *Client) UnlinkActivityGear(ctx context.Context, activityID, gearID string) error {
	if err := c.bind(ctx, "/equipment/activity/unbind", activityID, gearID, metrics.OpUnlinkGear); err != nil {
		return fmt.Errorf("failed to unlink gear %s from activity %s: %w", gearID, activityID, err)
	}
	return nil
}

func (c *Client) bind(ctx context.Context, path, activityID, gearID, op string) error {
	if err := c.session(); err != nil {
		return err
	}
	req, err := transport.Request{
		Operation: op,
		Method:    http.MethodPost,
		Path:      path,
	}.JSONBody(map[string]string{"labelId": activityID, "equipmentId": gearID})
	if err != nil {
		return err
	}
	if err := c.call(ctx, req, nil); err != nil {
		return err
	}
	c.logger.Info("Updated activity gear", "path", path, "activity_id", activityID, "gear_id", gearID)
	return nil
}
