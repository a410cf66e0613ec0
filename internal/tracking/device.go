package tracking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/example/roadside-assist/internal/models"
)

// StaticLocator always reports the same position.
type StaticLocator struct{ At models.Coord }

func (s StaticLocator) Locate(context.Context) (models.Coord, error) { return s.At, nil }

// RouteLocator replays a fixed route, one point per call, then stays on the
// last point.
type RouteLocator struct {
	mu    sync.Mutex
	route []models.Coord
	next  int
}

func NewRouteLocator(route []models.Coord) *RouteLocator {
	return &RouteLocator{route: route}
}

func (r *RouteLocator) Locate(context.Context) (models.Coord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.route) == 0 {
		return models.Coord{}, fmt.Errorf("empty route")
	}
	c := r.route[r.next]
	if r.next < len(r.route)-1 {
		r.next++
	}
	return c, nil
}

// ParseRoute reads "lat,lon;lat,lon;..." into coordinates.
func ParseRoute(s string) ([]models.Coord, error) {
	var out []models.Coord
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		latS, lonS, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("route point %q: want lat,lon", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
		if err != nil {
			return nil, fmt.Errorf("route point %q: %w", part, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
		if err != nil {
			return nil, fmt.Errorf("route point %q: %w", part, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("route point %q: out of range", part)
		}
		out = append(out, models.Coord{Lat: lat, Lon: lon})
	}
	return out, nil
}
