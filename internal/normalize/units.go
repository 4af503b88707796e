// ABOUTME: Vendor unit conversions into each metric type's canonical unit.
// ABOUTME: Conversions are linear: canonical = value*scale + offset.
package normalize

import (
	"fmt"
	"strings"

	"github.com/harperreed/healthsync/internal/models"
)

type conversion struct {
	scale  float64
	offset float64
}

func (c conversion) apply(v float64) float64 {
	return v*c.scale + c.offset
}

var identity = conversion{scale: 1}

var (
	massToKg = map[string]conversion{
		"kg": identity, "kgs": identity, "kilogram": identity, "kilograms": identity,
		"g":  {scale: 0.001},
		"lb": {scale: 0.45359237}, "lbs": {scale: 0.45359237}, "pound": {scale: 0.45359237}, "pounds": {scale: 0.45359237},
		"st": {scale: 6.35029318}, "stone": {scale: 6.35029318},
	}
	lengthToKm = map[string]conversion{
		"km": identity, "kilometer": identity, "kilometers": identity,
		"m":  {scale: 0.001}, "meter": {scale: 0.001}, "meters": {scale: 0.001},
		"mi": {scale: 1.609344}, "mile": {scale: 1.609344}, "miles": {scale: 1.609344},
		"ft": {scale: 0.0003048}, "feet": {scale: 0.0003048},
	}
	tempToC = map[string]conversion{
		"°c": identity, "c": identity, "degc": identity, "celsius": identity,
		"°f": {scale: 5.0 / 9.0, offset: -32 * 5.0 / 9.0},
		"f":  {scale: 5.0 / 9.0, offset: -32 * 5.0 / 9.0}, "degf": {scale: 5.0 / 9.0, offset: -32 * 5.0 / 9.0},
		"fahrenheit": {scale: 5.0 / 9.0, offset: -32 * 5.0 / 9.0},
	}
	durationToHours = map[string]conversion{
		"hours": identity, "hour": identity, "h": identity, "hr": identity, "hrs": identity,
		"min": {scale: 1.0 / 60}, "mins": {scale: 1.0 / 60}, "minutes": {scale: 1.0 / 60},
		"s": {scale: 1.0 / 3600}, "sec": {scale: 1.0 / 3600}, "seconds": {scale: 1.0 / 3600},
		"ms": {scale: 1.0 / 3600000},
	}
	durationToMinutes = map[string]conversion{
		"min": identity, "mins": identity, "minutes": identity,
		"s": {scale: 1.0 / 60}, "sec": {scale: 1.0 / 60}, "seconds": {scale: 1.0 / 60},
		"hours": {scale: 60}, "hour": {scale: 60}, "h": {scale: 60}, "hr": {scale: 60},
	}
	energyToKcal = map[string]conversion{
		"kcal": identity, "cal": identity, "calories": identity, "kilocalories": identity,
		"kj": {scale: 1 / 4.184}, "kilojoules": {scale: 1 / 4.184},
	}
	volumeToMl = map[string]conversion{
		"ml": identity, "milliliters": identity,
		"l": {scale: 1000}, "liter": {scale: 1000}, "liters": {scale: 1000},
		"fl oz": {scale: 29.5735295625}, "floz": {scale: 29.5735295625}, "fl_oz": {scale: 29.5735295625},
	}
	massToGrams = map[string]conversion{
		"g": identity, "grams": identity, "gram": identity,
		"mg": {scale: 0.001},
		"oz": {scale: 28.349523125}, "ounce": {scale: 28.349523125}, "ounces": {scale: 28.349523125},
	}
	percent = map[string]conversion{
		"%": identity, "percent": identity, "pct": identity,
		"fraction": {scale: 100}, "ratio": {scale: 100},
	}
	heartRate = map[string]conversion{
		"bpm": identity, "count/min": identity, "beats/min": identity,
	}
)

// conversions lists the accepted vendor units per metric type. Types not listed accept only
// their canonical unit.
var conversions = map[models.MetricType]map[string]conversion{
	models.MetricWeight:         massToKg,
	models.MetricDistance:       lengthToKm,
	models.MetricTemperature:    tempToC,
	models.MetricSleepHours:     durationToHours,
	models.MetricMeditation:     durationToMinutes,
	models.MetricActiveCalories: energyToKcal,
	models.MetricCalories:       energyToKcal,
	models.MetricWater:          volumeToMl,
	models.MetricProtein:        massToGrams,
	models.MetricCarbs:          massToGrams,
	models.MetricFat:            massToGrams,
	models.MetricBodyFat:        percent,
	models.MetricHeartRate:      heartRate,
}

// Convert converts value from a vendor unit into the canonical unit of mt.
// An empty unit means the value is already canonical.
func Convert(mt models.MetricType, value float64, unit string) (float64, error) {
	canonical, ok := models.MetricUnits[mt]
	if !ok {
		return 0, fmt.Errorf("unknown metric type %q", mt)
	}

	u := strings.ToLower(strings.TrimSpace(unit))
	if u == "" || u == strings.ToLower(canonical) {
		return value, nil
	}
	if table, ok := conversions[mt]; ok {
		if c, ok := table[u]; ok {
			return c.apply(value), nil
		}
	}
	return 0, fmt.Errorf("unsupported unit %q for %s", unit, mt)
}
