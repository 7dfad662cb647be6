package plan

import (
	"droneops-survey/internal/engine"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
	"droneops-survey/internal/mission"
)

// BuiltIn returns sample plans flown from the bases in config/engine.yaml.
func BuiltIn() map[string]Plan {
	return map[string]Plan{
		"field-survey": {
			Name:        "Field survey",
			Description: "Map two adjacent fields north of Vienna with overlapping crosshatch passes.",
			Missions: []Entry{
				{
					Mission: engine.MissionSpec{
						Name:           "field-east",
						CoverageArea:   box(48.2620, 16.4020, 48.2650, 16.4060),
						Pattern:        flightpath.PatternCrosshatch,
						Altitude:       60,
						Speed:          12,
						OverlapPercent: 70,
						BaseID:         "vienna-north",
					},
					Schedule: true,
				},
				{
					Mission: engine.MissionSpec{
						Name:           "field-west",
						CoverageArea:   box(48.2620, 16.3960, 48.2650, 16.4000),
						Pattern:        flightpath.PatternCrosshatch,
						Altitude:       60,
						Speed:          12,
						OverlapPercent: 70,
						BaseID:         "vienna-north",
					},
				},
			},
		},
		"perimeter-inspection": {
			Name:        "Perimeter inspection",
			Description: "Fly the fence line of a depot, holding for an operator check halfway round.",
			Missions: []Entry{
				{
					Mission: engine.MissionSpec{
						Name: "depot-fence",
						CoverageArea: []geo.Coordinate{
							{Lat: 47.0330, Lng: 15.4420}, {Lat: 47.0345, Lng: 15.4440},
							{Lat: 47.0335, Lng: 15.4470}, {Lat: 47.0318, Lng: 15.4452},
						},
						Pattern:         flightpath.PatternPerimeter,
						Altitude:        40,
						Speed:           15,
						OverlapPercent:  30,
						PerimeterPasses: 2,
						BaseID:          "graz-south",
					},
					Triggers: []Trigger{
						{Event: EventProgress, Value: 50, Command: mission.CommandPause},
						{Event: EventElapsed, Value: 20, Command: mission.CommandResume},
					},
				},
			},
		},
		"storm-damage": {
			Name:        "Storm damage",
			Description: "Spiral over a damaged orchard and recall the drone once the core is covered.",
			Missions: []Entry{
				{
					Mission: engine.MissionSpec{
						Name: "orchard-core",
						CoverageArea: []geo.Coordinate{
							{Lat: 48.2570, Lng: 16.3950}, {Lat: 48.2590, Lng: 16.3990}, {Lat: 48.2555, Lng: 16.3985},
						},
						Pattern:        flightpath.PatternSpiral,
						Altitude:       45,
						Speed:          8,
						OverlapPercent: 60,
						BaseID:         "vienna-north",
					},
					Triggers: []Trigger{
						{Event: EventProgress, Value: 60, Command: mission.CommandAbort},
					},
				},
			},
		},
	}
}

func box(south, west, north, east float64) []geo.Coordinate {
	return []geo.Coordinate{
		{Lat: south, Lng: west}, {Lat: south, Lng: east}, {Lat: north, Lng: east}, {Lat: north, Lng: west},
	}
}
