package builtin

import (
	"context"

	"github.com/jllopis/concierge/pkg/capability"
)

// Weather returns a canned forecast for the requested city and date.
func Weather(_ context.Context, inv capability.Invocation) (capability.Result, error) {
	return capability.Outcome(map[string]any{
		"type": "weather_result",
		"city": inv.Args.Get("city"),
		"date": inv.Args.Get("date"),
		"forecast": map[string]any{
			"summary":         "ensoleillé avec quelques nuages",
			"temperature_min": 5,
			"temperature_max": 14,
		},
		"note": "Les données météo sont fictives dans cet exemple.",
	}), nil
}
