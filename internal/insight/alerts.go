// Package insight derives alerts, hints and feasibility results from
// already-loaded planning records. Every function is pure.
package insight

import (
	"fmt"
	"strconv"

	"quarterplan/internal/domain"
)

type AlertKind string

const (
	AlertOverloaded AlertKind = "overloaded"
	AlertSlack      AlertKind = "slack"
)

// Thresholds are utilization percentages. Above Overload a squad is
// overloaded; below Slack it has room.
type Thresholds struct {
	Overload float64 `json:"overload"`
	Slack    float64 `json:"slack"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Overload: domain.OverloadThresholdPercent, Slack: 70}
}

type Alert struct {
	Kind               AlertKind `json:"kind"`
	SquadID            string    `json:"squad_id"`
	Quarter            string    `json:"quarter"`
	UtilizationPercent float64   `json:"utilization_percent"`
	Message            string    `json:"message"`
}

// CapacityAlerts emits at most one alert per snapshot, in snapshot order.
func CapacityAlerts(snapshots []domain.CapacityRecord, th Thresholds) []Alert {
	alerts := []Alert{}
	for _, s := range snapshots {
		u := s.UtilizationPercent()
		var kind AlertKind
		var msg string
		switch {
		case u > th.Overload:
			kind = AlertOverloaded
			msg = fmt.Sprintf("Squad %s acima de %s%% (%.1f%%)", s.SquadID, percent(th.Overload), u)
		case u < th.Slack:
			kind = AlertSlack
			msg = fmt.Sprintf("Squad %s abaixo de %s%% (%.1f%%)", s.SquadID, percent(th.Slack), u)
		default:
			continue
		}
		alerts = append(alerts, Alert{
			Kind:               kind,
			SquadID:            s.SquadID,
			Quarter:            s.Quarter,
			UtilizationPercent: u,
			Message:            msg,
		})
	}
	return alerts
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
