// Drone availability registry
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"droneops-survey/internal/config"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
)

// Fleet reserves drones for missions. Implementations synchronize
// internally; they are shared by every mission.
type Fleet interface {
	ReserveDrone(ctx context.Context, baseID string, c Criteria) (string, error)
	ReleaseDrone(ctx context.Context, droneID string) error
	// Battery seeds the simulated battery of a freshly reserved drone.
	Battery(ctx context.Context, droneID string) (float64, error)
}

// LinkMonitor is implemented by fleets that can tell whether a drone is
// still reachable. The simulator polls it every tick.
type LinkMonitor interface {
	Reachable(droneID string) bool
}

// SensorProvider is implemented by fleets that know the sensor carried by
// each drone model.
type SensorProvider interface {
	Sensor(ctx context.Context, droneID string) (flightpath.Sensor, error)
}

// Criteria narrows which drones may be reserved.
type Criteria struct {
	Model      string  `json:"model,omitempty"`
	MinBattery float64 `json:"min_battery,omitempty"`
}

// ErrNoDroneAvailable is matched by every NoDroneAvailableError.
var ErrNoDroneAvailable = errors.New("no drone available")

// ErrUnknownDrone is returned for ids the registry never issued.
var ErrUnknownDrone = errors.New("unknown drone")

// ErrNotReserved is returned when releasing a drone that is not reserved.
var ErrNotReserved = errors.New("drone not reserved")

// NoDroneAvailableError reports a failed reservation at a base.
type NoDroneAvailableError struct {
	BaseID   string
	Criteria Criteria
}

func (e *NoDroneAvailableError) Error() string {
	return fmt.Sprintf("no drone available at base %q", e.BaseID)
}

func (e *NoDroneAvailableError) Is(target error) bool { return target == ErrNoDroneAvailable }

// State is the availability of one drone.
type State string

const (
	StateAvailable State = "available"
	StateReserved  State = "reserved"
	StateLost      State = "lost"
)

// Drone is a registry entry.
type Drone struct {
	ID      string            `json:"id"`
	Fleet   string            `json:"fleet"`
	Model   string            `json:"model"`
	BaseID  string            `json:"base_id"`
	Battery float64           `json:"battery"`
	Sensor  flightpath.Sensor `json:"sensor"`
	State   State             `json:"state"`
}

// BaseHealth summarizes drone states at one base.
type BaseHealth struct {
	BaseID    string `json:"base_id"`
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Lost      int    `json:"lost"`
}

// Registry is an in-memory Fleet seeded from configuration.
type Registry struct {
	mu     sync.Mutex
	bases  []config.Base
	drones []*Drone
	byID   map[string]*Drone
}

// NewRegistry creates count drones per configured fleet.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{bases: append([]config.Base(nil), cfg.Bases...), byID: map[string]*Drone{}}
	for _, f := range cfg.Fleets {
		if _, ok := cfg.Base(f.Base); !ok {
			return nil, fmt.Errorf("fleet %q references unknown base %q", f.Name, f.Base)
		}
		sensor := cfg.Sensor
		if f.Sensor != nil {
			sensor = *f.Sensor
		}
		battery := f.BatteryPct
		if battery <= 0 {
			battery = 100
		}
		for i := 0; i < f.Count; i++ {
			d := &Drone{
				ID:      generateDroneID(f.Name, i),
				Fleet:   f.Name,
				Model:   f.Model,
				BaseID:  f.Base,
				Battery: battery,
				Sensor:  sensor,
				State:   StateAvailable,
			}
			r.drones = append(r.drones, d)
			r.byID[d.ID] = d
		}
	}
	return r, nil
}

// generateDroneID derives a stable id so missions restored after a restart
// find their drone again.
func generateDroneID(fleetName string, index int) string {
	name := fmt.Sprintf("%s/%d", fleetName, index)
	return fmt.Sprintf("%s-%d-%s", fleetName, index, uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()[:8])
}

// ReserveDrone picks the available drone at baseID with the most battery that
// matches c.
func (r *Registry) ReserveDrone(ctx context.Context, baseID string, c Criteria) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *Drone
	for _, d := range r.drones {
		if d.BaseID != baseID || d.State != StateAvailable {
			continue
		}
		if c.Model != "" && d.Model != c.Model {
			continue
		}
		if d.Battery < c.MinBattery {
			continue
		}
		if best == nil || d.Battery > best.Battery {
			best = d
		}
	}
	if best == nil {
		return "", &NoDroneAvailableError{BaseID: baseID, Criteria: c}
	}
	best.State = StateReserved
	return best.ID, nil
}

// ReleaseDrone makes a reserved drone available again. Lost drones stay lost.
func (r *Registry) ReleaseDrone(ctx context.Context, droneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	switch d.State {
	case StateReserved:
		d.State = StateAvailable
	case StateLost:
	default:
		return fmt.Errorf("%w: %s", ErrNotReserved, droneID)
	}
	return nil
}

// Claim reserves a specific drone again, e.g. for a mission restored from
// the store. Only available drones can be claimed.
func (r *Registry) Claim(ctx context.Context, droneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	if d.State != StateAvailable {
		return fmt.Errorf("drone %s is %s", droneID, d.State)
	}
	d.State = StateReserved
	return nil
}

// Battery returns the stored battery level of a drone.
func (r *Registry) Battery(ctx context.Context, droneID string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	return d.Battery, nil
}

// Sensor implements SensorProvider.
func (r *Registry) Sensor(ctx context.Context, droneID string) (flightpath.Sensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return flightpath.Sensor{}, fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	return d.Sensor, nil
}

// SetBattery records the battery a drone came back with.
func (r *Registry) SetBattery(droneID string, pct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	d.Battery = pct
	return nil
}

// MarkLost flags a drone as unreachable.
func (r *Registry) MarkLost(droneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, droneID)
	}
	d.State = StateLost
	return nil
}

// Reachable implements LinkMonitor.
func (r *Registry) Reachable(droneID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[droneID]
	return ok && d.State != StateLost
}

// BaseLocation returns where a base is.
func (r *Registry) BaseLocation(ctx context.Context, baseID string) (geo.Coordinate, error) {
	for _, b := range r.bases {
		if b.ID == baseID {
			return b.Location, nil
		}
	}
	return geo.Coordinate{}, fmt.Errorf("unknown base %q", baseID)
}

// Drones returns a snapshot of every drone ordered by id.
func (r *Registry) Drones() []Drone {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Drone, 0, len(r.drones))
	for _, d := range r.drones {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Health returns per-base state counts in configuration order.
func (r *Registry) Health() []BaseHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]BaseHealth, 0, len(r.bases))
	for _, b := range r.bases {
		h := BaseHealth{BaseID: b.ID, Name: b.Name}
		for _, d := range r.drones {
			if d.BaseID != b.ID {
				continue
			}
			h.Total++
			switch d.State {
			case StateAvailable:
				h.Available++
			case StateReserved:
				h.Reserved++
			case StateLost:
				h.Lost++
			}
		}
		result = append(result, h)
	}
	return result
}
