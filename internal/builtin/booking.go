package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/concierge/pkg/capability"
)

// Booking recaps the reservation. Nothing is booked for real.
func Booking(_ context.Context, inv capability.Invocation) (capability.Result, error) {
	get := func(name, fallback string) string {
		if v := strings.TrimSpace(inv.Args.Get(name)); v != "" {
			return v
		}
		return fallback
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Parfait ! Je récapitule : réservation à %s, le %s à %s, pour %s personnes.",
		get("restaurant_name", "un restaurant"),
		get("date", "une date inconnue"),
		get("time", "une heure inconnue"),
		get("people", "un certain nombre de"))
	if notes := get("notes", ""); notes != "" {
		fmt.Fprintf(&b, " Demande particulière : %s.", strings.TrimRight(notes, "."))
	}
	b.WriteString(" (Je ne fais pas la réservation réelle, c'est un exemple.)")
	return capability.Reply(b.String()), nil
}
