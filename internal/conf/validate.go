// conf/validate.go

package conf

import (
	"fmt"
	"strconv"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validatePricingSettings(&settings.Pricing); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateRealtimeSettings(&settings.Realtime); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePricingSettings(pricing *PricingSettings) error {
	if pricing.HourlyRate <= 0 {
		return fmt.Errorf("pricing.hourlyrate must be positive: %d", pricing.HourlyRate)
	}
	if pricing.MinimumCharge < 0 {
		return fmt.Errorf("pricing.minimumcharge must not be negative: %d", pricing.MinimumCharge)
	}
	return nil
}

func validateRealtimeSettings(realtime *RealtimeSettings) error {
	if realtime.Monitor.PollInterval < 1 {
		return fmt.Errorf("realtime.monitor.pollinterval must be at least 1 second: %d", realtime.Monitor.PollInterval)
	}
	if realtime.Exit.LockdownThreshold < 1 {
		return fmt.Errorf("realtime.exit.lockdownthreshold must be at least 1: %d", realtime.Exit.LockdownThreshold)
	}
	if realtime.ActivityBufferSize < 1 {
		return fmt.Errorf("realtime.activitybuffersize must be at least 1: %d", realtime.ActivityBufferSize)
	}
	return nil
}

func validateWebServerSettings(ws *WebServerSettings) error {
	if !ws.Enabled {
		return nil
	}
	port, err := strconv.Atoi(ws.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be a number between 1 and 65535: %s", ws.Port)
	}
	return nil
}
