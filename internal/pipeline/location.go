package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/placefinder/querycore/core/cache"
	"github.com/placefinder/querycore/internal/model"
	"github.com/placefinder/querycore/internal/taxonomy"
)

// staleProfileAge marks profile locations older than this as stale; they
// are still used, just flagged.
const staleProfileAge = 30 * 24 * time.Hour

// resolveLocation anchors the search following the priority chain:
// explicit entity location > "near me" + profile > profile > session
// geolocation > request IP > none.
func (o *Orchestrator) resolveLocation(ctx context.Context, req Request, analysis model.QueryAnalysis) *model.ResolvedLocation {
	// Explicit city entity wins outright.
	for _, name := range analysis.Entities.Locations {
		city, ok := taxonomy.LookupCity(name)
		if !ok {
			continue
		}
		return &model.ResolvedLocation{
			Lat:    city.Lat,
			Lng:    city.Lng,
			Source: model.LocationSourceExplicit,
			City:   city.Name,
			State:  city.State,
		}
	}

	if profile := o.profileLocation(ctx, req.UserID); profile != nil {
		return profile
	}

	// Session-provided device geolocation.
	if req.Location != nil {
		loc := *req.Location
		if loc.Source == "" {
			loc.Source = model.LocationSourceGeolocation
		}
		if loc.City == "" {
			loc.City, loc.State = o.reverseGeocode(ctx, loc.Lat, loc.Lng)
		}
		return &loc
	}

	if o.ipLocator != nil && req.IP != "" {
		ipLoc, err := o.ipLocator.Locate(ctx, req.IP)
		if err != nil {
			slog.WarnContext(ctx, "ip location lookup failed", "error", err)
		} else if ipLoc != nil {
			city, state := ipLoc.City, ""
			if city == "" {
				city, state = o.reverseGeocode(ctx, ipLoc.Lat, ipLoc.Lng)
			}
			return &model.ResolvedLocation{
				Lat:    ipLoc.Lat,
				Lng:    ipLoc.Lng,
				Source: model.LocationSourceIP,
				City:   city,
				State:  state,
			}
		}
	}

	return nil
}

func (o *Orchestrator) profileLocation(ctx context.Context, userID string) *model.ResolvedLocation {
	if o.profiles == nil || userID == "" {
		return nil
	}

	profile, err := o.profiles.GetUserLocation(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "profile location lookup failed", "error", err)
		return nil
	}
	if profile == nil {
		return nil
	}

	city, state := profile.City, ""
	if city == "" {
		city, state = o.reverseGeocode(ctx, profile.Lat, profile.Lng)
	}

	stale := !profile.LastUpdated.IsZero() && time.Since(profile.LastUpdated) > staleProfileAge
	return &model.ResolvedLocation{
		Lat:    profile.Lat,
		Lng:    profile.Lng,
		Source: model.LocationSourceProfile,
		City:   city,
		State:  state,
		Stale:  stale,
	}
}

// reverseGeocode resolves coordinates to a city/state through the optional
// geocoder, memoized for 24 hours under coarse coordinates.
func (o *Orchestrator) reverseGeocode(ctx context.Context, lat, lng float64) (string, string) {
	if o.geocoder == nil {
		return "", ""
	}

	key := fmt.Sprintf("geocode:%.2f,%.2f", lat, lng)
	if raw, ok := o.cache.Get(ctx, key); ok {
		var cached GeocodeResult
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached.City, cached.State
		}
	}

	result, err := o.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil || result == nil {
		if err != nil {
			slog.WarnContext(ctx, "reverse geocode failed", "error", err)
		}
		return "", ""
	}

	if raw, err := json.Marshal(result); err == nil {
		o.cache.Set(ctx, key, raw, cache.TTLGeocode)
	}
	return result.City, result.State
}
