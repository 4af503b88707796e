// ABOUTME: VendorProfile strategy values, one per supported vendor.
// ABOUTME: Profiles carry endpoints, auth header style, capabilities, and vendor default units.
package adapter

import "github.com/harperreed/healthsync/internal/models"

// VendorProfile describes how to talk to one vendor's API.
type VendorProfile struct {
	Vendor       models.Vendor
	BaseURL      string
	AuthPath     string
	SamplesPath  string
	PushPath     string
	BatteryPath  string
	AuthHeader   string
	TokenPrefix  string
	Capabilities []models.MetricType
	// Units are the vendor's units for samples that arrive without one.
	Units map[models.MetricType]string
}

// Unit returns the vendor unit for a metric type, falling back to the canonical unit.
func (p VendorProfile) Unit(mt models.MetricType) string {
	if u, ok := p.Units[mt]; ok {
		return u
	}
	return models.MetricUnits[mt]
}

// Profiles returns the built-in profile of every supported vendor.
func Profiles() map[models.Vendor]VendorProfile {
	return map[models.Vendor]VendorProfile{
		models.VendorAppleHealth: {
			Vendor:      models.VendorAppleHealth,
			BaseURL:     "https://healthkit-bridge.example.com",
			AuthPath:    "/v1/auth/exchange",
			SamplesPath: "/v1/samples",
			PushPath:    "/v1/samples/batch",
			BatteryPath: "/v1/device/battery",
			AuthHeader:  "Authorization",
			TokenPrefix: "Bearer ",
			Capabilities: []models.MetricType{
				models.MetricHeartRate, models.MetricHRV, models.MetricSteps, models.MetricDistance,
				models.MetricSleepHours, models.MetricActiveCalories, models.MetricWeight,
				models.MetricBodyFat, models.MetricTemperature, models.MetricBPSys, models.MetricBPDia,
			},
			Units: map[models.MetricType]string{
				models.MetricWeight:      "lb",
				models.MetricDistance:    "mi",
				models.MetricTemperature: "degF",
				models.MetricSleepHours:  "min",
			},
		},
		models.VendorGoogleFit: {
			Vendor:      models.VendorGoogleFit,
			BaseURL:     "https://www.googleapis.com/fitness",
			AuthPath:    "/v1/oauth/token",
			SamplesPath: "/v1/users/me/samples",
			PushPath:    "/v1/users/me/samples:push",
			AuthHeader:  "Authorization",
			TokenPrefix: "Bearer ",
			Capabilities: []models.MetricType{
				models.MetricHeartRate, models.MetricSteps, models.MetricDistance,
				models.MetricSleepHours, models.MetricActiveCalories, models.MetricWeight,
			},
			Units: map[models.MetricType]string{
				models.MetricDistance:       "m",
				models.MetricSleepHours:     "ms",
				models.MetricActiveCalories: "kcal",
			},
		},
		models.VendorFitbit: {
			Vendor:      models.VendorFitbit,
			BaseURL:     "https://api.fitbit.com",
			AuthPath:    "/oauth2/token",
			SamplesPath: "/1/user/-/samples",
			PushPath:    "/1/user/-/samples/batch",
			BatteryPath: "/1/user/-/devices/battery",
			AuthHeader:  "Authorization",
			TokenPrefix: "Bearer ",
			Capabilities: []models.MetricType{
				models.MetricHeartRate, models.MetricHRV, models.MetricSteps, models.MetricDistance,
				models.MetricSleepHours, models.MetricActiveCalories, models.MetricWeight,
				models.MetricWater, models.MetricCalories,
			},
			Units: map[models.MetricType]string{
				models.MetricSleepHours: "min",
				models.MetricWater:      "fl oz",
			},
		},
		models.VendorGarmin: {
			Vendor:      models.VendorGarmin,
			BaseURL:     "https://apis.garmin.com/wellness-api",
			AuthPath:    "/rest/oauth/token",
			SamplesPath: "/rest/samples",
			PushPath:    "/rest/samples/upload",
			BatteryPath: "/rest/device/battery",
			AuthHeader:  "Authorization",
			TokenPrefix: "Bearer ",
			Capabilities: []models.MetricType{
				models.MetricHeartRate, models.MetricHRV, models.MetricSteps, models.MetricDistance,
				models.MetricSleepHours, models.MetricActiveCalories, models.MetricStress,
				models.MetricBodyFat, models.MetricWeight,
			},
			Units: map[models.MetricType]string{
				models.MetricSleepHours:     "s",
				models.MetricDistance:       "m",
				models.MetricActiveCalories: "kJ",
				models.MetricWeight:         "g",
			},
		},
		models.VendorGenericOAuth: {
			Vendor:       models.VendorGenericOAuth,
			AuthPath:     "/oauth/token",
			SamplesPath:  "/samples",
			PushPath:     "/samples",
			AuthHeader:   "X-Access-Token",
			Capabilities: append([]models.MetricType(nil), models.AllMetricTypes...),
		},
	}
}
