package admin

import "strconv"

func formatPct(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64) + "%"
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>droneops-survey {{.ClusterID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.FAILED, .ABORTED { color: #b00; }
.COMPLETED { color: #070; }
.PAUSED { color: #a60; }
</style>
</head>
<body>
<h1>Cluster {{.ClusterID}}</h1>
<h2>Bases</h2>
<table>
<tr><th>Base</th><th>Total</th><th>Available</th><th>Reserved</th><th>Lost</th></tr>
{{range .Bases}}<tr><td>{{.Name}}</td><td>{{.Total}}</td><td>{{.Available}}</td><td>{{.Reserved}}</td><td>{{.Lost}}</td></tr>
{{end}}</table>
<h2>Missions</h2>
<table>
<tr><th>ID</th><th>Name</th><th>Pattern</th><th>Status</th><th>Drone</th><th>Waypoint</th><th>Progress</th><th>Battery</th></tr>
{{range .Missions}}<tr><td><a href="/missions/{{.ID}}">{{.ID}}</a></td><td>{{.Name}}</td><td>{{.Pattern}}</td><td class="{{.Status}}">{{.Status}}{{if .FailureReason}} ({{.FailureReason}}){{end}}</td><td>{{.AssignedDroneID}}</td><td>{{.CurrentWaypointIndex}}</td><td>{{pct .Progress}}</td><td>{{pct .Battery}}</td></tr>
{{else}}<tr><td colspan="8">no missions</td></tr>
{{end}}</table>
</body>
</html>
`
