// Copyright 2026 © The Concierge Authors
// SPDX-License-Identifier: Apache-2.0

// Package calendar keeps events in an iCalendar file and serves the
// calendar capability.
package calendar

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/when"
)

const (
	productID    = "-//Concierge//Agenda//FR"
	uidDomain    = "concierge.local"
	untitled     = "Sans titre"
	stampLayout  = "2006-01-02 15:04"
	humanLayout  = "02/01/2006 à 15:04"
	uidAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	uidSuffixLen = 6
)

// Event is the summary of a stored VEVENT.
type Event struct {
	UID         string `json:"uid"`
	Summary     string `json:"summary"`
	Start       string `json:"dtstart"`
	End         string `json:"dtend"`
	Description string `json:"description,omitempty"`

	start time.Time
}

// Store reads and writes one .ics file. Operations on the same Store are
// serialised.
type Store struct {
	mu   sync.Mutex
	path string
}

var (
	storesMu sync.Mutex
	stores   = map[string]*Store{}
)

// Open returns the shared Store for path.
func Open(path string) *Store {
	path = filepath.Clean(path)
	storesMu.Lock()
	defer storesMu.Unlock()
	if s, ok := stores[path]; ok {
		return s
	}
	s := &Store{path: path}
	stores[path] = s
	return s
}

// Execute runs the calendar capability against the store named by the
// invocation environment.
func Execute(_ context.Context, inv capability.Invocation) (capability.Result, error) {
	path := "calendar.ics"
	if inv.Env != nil && inv.Env.CalendarPath != "" {
		path = inv.Env.CalendarPath
	}
	s := Open(path)
	now := inv.Env.Now()

	info := inv.Args.Get("event_info")
	switch action := strings.ToLower(strings.TrimSpace(inv.Args.Get("action"))); action {
	case "add", "ajouter", "ajoute", "creer", "créer", "nouveau":
		return s.Add(now, info), nil
	case "remove", "supprimer", "supprime", "delete", "effacer":
		return s.Remove(info), nil
	case "edit", "modifier", "modifie", "update", "changer":
		return s.Edit(now, info), nil
	case "list", "lister", "voir", "afficher", "show":
		return s.List(now.Location()), nil
	default:
		return failure(fmt.Sprintf("Action non reconnue : '%s'. Utilise : add, remove, edit, ou list.", action)), nil
	}
}

// Add creates an event from "titre | date | heure | description | durée"
// or from free text such as "Dentiste demain à 14h".
func (s *Store) Add(now time.Time, info string) capability.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors de l'ajout de l'événement : %v", err))
	}

	title, date, clock, description, duration := untitled, "", "", "", ""
	if strings.Contains(info, "|") {
		parts := splitFields(info)
		title = field(parts, 0, untitled)
		date = field(parts, 1, "")
		clock = field(parts, 2, "")
		description = field(parts, 3, "")
		duration = field(parts, 4, "")
	} else {
		title, date = splitFreeText(info)
		clock = date
	}

	start := when.ParseDateTime(now, date, clock)
	end := start.Add(when.ParseDuration(duration))

	uid := newUID(now)
	ev := cal.AddEvent(uid)
	ev.SetSummary(title)
	ev.SetStartAt(start)
	ev.SetEndAt(end)
	ev.SetDtStampTime(now)
	if description != "" {
		ev.SetDescription(description)
	}
	if err := s.save(cal); err != nil {
		return failure(fmt.Sprintf("Erreur lors de l'ajout de l'événement : %v", err))
	}

	return capability.Outcome(map[string]any{
		"type":   "calendar_success",
		"action": "add",
		"event": Event{
			UID:         uid,
			Summary:     title,
			Start:       start.Format(stampLayout),
			End:         end.Format(stampLayout),
			Description: description,
		},
		"message": fmt.Sprintf("L'événement '%s' a été ajouté pour le %s.", title, start.Format(humanLayout)),
	})
}

// Remove deletes the event with the given UID.
func (s *Store) Remove(uid string) capability.Result {
	uid = strings.TrimSpace(uid)
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors de la suppression : %v", err))
	}
	ev := findEvent(cal, uid)
	if ev == nil {
		return failure(fmt.Sprintf("Aucun événement trouvé avec l'UID '%s'.", uid))
	}
	summary := propertyText(ev, ics.ComponentPropertySummary, untitled)

	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if e, ok := c.(*ics.VEvent); ok && e.Id() == uid {
			continue
		}
		kept = append(kept, c)
	}
	cal.Components = kept
	if err := s.save(cal); err != nil {
		return failure(fmt.Sprintf("Erreur lors de la suppression : %v", err))
	}

	return capability.Outcome(map[string]any{
		"type":      "calendar_success",
		"action":    "remove",
		"event_uid": uid,
		"message":   fmt.Sprintf("L'événement '%s' (UID: %s) a été supprimé.", summary, uid),
	})
}

// Edit applies "UID | titre | date | heure | description". Empty fields are
// left unchanged and a new date keeps the original duration.
func (s *Store) Edit(now time.Time, info string) capability.Result {
	parts := splitFields(info)
	uid := field(parts, 0, "")
	if uid == "" {
		return failure("UID manquant pour la modification.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors de la modification : %v", err))
	}
	ev := findEvent(cal, uid)
	if ev == nil {
		return failure(fmt.Sprintf("Aucun événement trouvé avec l'UID '%s'.", uid))
	}

	if title := field(parts, 1, ""); title != "" {
		ev.SetSummary(title)
	}
	if date := field(parts, 2, ""); date != "" {
		duration := when.DefaultDuration
		oldStart, errStart := ev.GetStartAt()
		oldEnd, errEnd := ev.GetEndAt()
		if errStart == nil && errEnd == nil && oldEnd.After(oldStart) {
			duration = oldEnd.Sub(oldStart)
		}
		start := when.ParseDateTime(now, date, field(parts, 3, ""))
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(duration))
	}
	if description := field(parts, 4, ""); description != "" {
		ev.SetDescription(description)
	}
	ev.SetModifiedAt(now)

	if err := s.save(cal); err != nil {
		return failure(fmt.Sprintf("Erreur lors de la modification : %v", err))
	}

	summary := propertyText(ev, ics.ComponentPropertySummary, untitled)
	return capability.Outcome(map[string]any{
		"type":      "calendar_success",
		"action":    "edit",
		"event_uid": uid,
		"message":   fmt.Sprintf("L'événement '%s' a été modifié.", summary),
	})
}

// List returns every event sorted by start, with times shown in loc.
func (s *Store) List(loc *time.Location) capability.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return failure(fmt.Sprintf("Erreur lors du listing : %v", err))
	}
	events := summarize(cal, loc)
	return capability.Outcome(map[string]any{
		"type":    "calendar_success",
		"action":  "list",
		"events":  events,
		"count":   len(events),
		"message": fmt.Sprintf("Voici tes %d événement(s) :", len(events)),
	})
}

// Events lists the stored events sorted by start.
func (s *Store) Events(loc *time.Location) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, err := s.load()
	if err != nil {
		return nil, err
	}
	return summarize(cal, loc), nil
}

func summarize(cal *ics.Calendar, loc *time.Location) []Event {
	if loc == nil {
		loc = time.Local
	}
	events := make([]Event, 0)
	for _, ev := range cal.Events() {
		e := Event{
			UID:         ev.Id(),
			Summary:     propertyText(ev, ics.ComponentPropertySummary, untitled),
			Description: propertyText(ev, ics.ComponentPropertyDescription, ""),
		}
		if start, err := ev.GetStartAt(); err == nil {
			e.start = start.In(loc)
			e.Start = e.start.Format(stampLayout)
		}
		if end, err := ev.GetEndAt(); err == nil {
			e.End = end.In(loc).Format(stampLayout)
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].start.Before(events[j].start)
	})
	return events
}

func (s *Store) load() (*ics.Calendar, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		cal := ics.NewCalendar()
		cal.SetProductId(productID)
		cal.SetMethod(ics.MethodPublish)
		return cal, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ics.ParseCalendar(f)
}

func (s *Store) save(cal *ics.Calendar) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cal.Serialize()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func findEvent(cal *ics.Calendar, uid string) *ics.VEvent {
	for _, ev := range cal.Events() {
		if ev.Id() == uid {
			return ev
		}
	}
	return nil
}

func propertyText(ev *ics.VEvent, prop ics.ComponentProperty, fallback string) string {
	p := ev.GetProperty(prop)
	if p == nil || p.Value == "" {
		return fallback
	}
	return unescape(p.Value)
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n", `\\`, `\`)

func unescape(s string) string {
	return textUnescaper.Replace(s)
}

func newUID(now time.Time) string {
	suffix := make([]byte, uidSuffixLen)
	for i := range suffix {
		suffix[i] = uidAlphabet[rand.IntN(len(uidAlphabet))]
	}
	return fmt.Sprintf("evt_%d_%s@%s", now.Unix(), suffix, uidDomain)
}

func splitFields(info string) []string {
	parts := strings.Split(info, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func field(parts []string, i int, fallback string) string {
	if i < len(parts) && parts[i] != "" {
		return parts[i]
	}
	return fallback
}

// dateMarkers start the date part of a free text event description.
var dateMarkers = []string{
	"aujourd", "après-demain", "apres-demain", "demain", "dans ", " le ", " à ", " a ",
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche",
}

// splitFreeText cuts "Dentiste demain à 14h" into a title and the rest.
func splitFreeText(info string) (title, rest string) {
	info = strings.TrimSpace(info)
	lower := strings.ToLower(info)
	if len(lower) != len(info) {
		lower = info
	}
	lower = " " + lower
	cut := -1
	for _, m := range dateMarkers {
		if i := strings.Index(lower, m); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		if info == "" {
			return untitled, ""
		}
		return info, ""
	}
	// lower carries one extra leading byte.
	cut = max(cut-1, 0)
	title = strings.TrimSpace(info[:cut])
	if title == "" {
		title = untitled
	}
	return title, strings.TrimSpace(info[cut:])
}

func failure(msg string) capability.Result {
	return capability.Outcome(map[string]any{
		"type":    "calendar_error",
		"message": msg,
	})
}
