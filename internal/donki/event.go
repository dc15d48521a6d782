package donki

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EarthImpact is the predicted effect of a CME on Earth.
// Values are persisted as integers.
type EarthImpact int

const (
	NoImpact     EarthImpact = 0
	Impact       EarthImpact = 1
	GlancingBlow EarthImpact = 2
)

func (e EarthImpact) String() string {
	switch e {
	case Impact:
		return "impact"
	case GlancingBlow:
		return "glancing blow"
	}
	return "none"
}

// Extras are the type-specific fields denormalized for list views.
// Only the field matching the event's type is set.
type Extras struct {
	PredictedEarthImpact *EarthImpact // CME
	KpIndex              *float64     // GST
	Location             *string      // IPS
	ClassType            *string      // FLR
}

// Event is a decoded DONKI event. JSON keeps the payload as received.
type Event struct {
	ID           EventID
	Type         EventType
	Time         time.Time
	Link         string
	LinkedEvents []EventID
	Extras       Extras
	JSON         json.RawMessage
}

// Summary returns the list-view projection of the event.
func (e Event) Summary() EventSummary {
	return EventSummary{ID: e.ID, Type: e.Type, Time: e.Time, Extras: e.Extras}
}

// EventSummary is a row in an event list.
type EventSummary struct {
	ID     EventID
	Type   EventType
	Time   time.Time
	Extras Extras
}

type wireKeys struct {
	id   string
	time string
}

var eventWireKeys = map[EventType]wireKeys{
	CoronalMassEjection:      {"activityID", "startTime"},
	GeomagneticStorm:         {"gstID", "startTime"},
	InterplanetaryShock:      {"activityID", "eventTime"},
	SolarFlare:               {"flrID", "beginTime"},
	SolarEnergeticParticle:   {"sepID", "eventTime"},
	MagnetopauseCrossing:     {"mpcID", "eventTime"},
	RadiationBeltEnhancement: {"rbeID", "eventTime"},
	HighSpeedStream:          {"hssID", "eventTime"},
}

// DecodeEvents decodes a JSON array returned by the /<TYPE> endpoint.
// An empty body is an empty list.
func DecodeEvents(t EventType, data []byte) ([]Event, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode %s events: %w", t, err)
	}
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		e, err := DecodeEvent(t, raw)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// DecodeEvent decodes a single event object of type t.
func DecodeEvent(t EventType, raw json.RawMessage) (Event, error) {
	keys, ok := eventWireKeys[t]
	if !ok {
		return Event{}, fmt.Errorf("decode event: unknown type %q", t)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", t, err)
	}

	var id, ts, link string
	if err := unmarshalField(fields, keys.id, &id); err != nil || id == "" {
		return Event{}, fmt.Errorf("decode %s event: missing %s", t, keys.id)
	}
	if err := unmarshalField(fields, keys.time, &ts); err != nil {
		return Event{}, fmt.Errorf("decode %s event %s: %w", t, id, err)
	}
	eventTime, err := ParseTime(ts)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event %s: %w", t, id, err)
	}
	_ = unmarshalField(fields, "link", &link)

	e := Event{
		ID:   EventID(id),
		Type: t,
		Time: eventTime,
		Link: link,
		JSON: append(json.RawMessage(nil), raw...),
	}

	var linked []struct {
		ActivityID string `json:"activityID"`
	}
	if err := unmarshalField(fields, "linkedEvents", &linked); err == nil {
		for _, l := range linked {
			if l.ActivityID != "" {
				e.LinkedEvents = append(e.LinkedEvents, EventID(l.ActivityID))
			}
		}
	}

	extras, err := decodeExtras(t, raw)
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event %s: %w", t, id, err)
	}
	e.Extras = extras
	return e, nil
}

// unmarshalField decodes fields[key] into v. A missing or null field is
// left as the zero value and reported as an error.
func unmarshalField(fields map[string]json.RawMessage, key string, v any) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return fmt.Errorf("missing field %s", key)
	}
	return json.Unmarshal(raw, v)
}

type cmeWire struct {
	Analyses []struct {
		SubmissionTime string `json:"submissionTime"`
		EnlilList      []struct {
			ModelCompletionTime       string  `json:"modelCompletionTime"`
			EstimatedShockArrivalTime *string `json:"estimatedShockArrivalTime"`
			IsEarthGB                 *bool   `json:"isEarthGB"`
		} `json:"enlilList"`
	} `json:"cmeAnalyses"`
}

type gstWire struct {
	AllKpIndex []struct {
		KpIndex float64 `json:"kpIndex"`
	} `json:"allKpIndex"`
}

type ipsWire struct {
	Location string `json:"location"`
}

type flrWire struct {
	ClassType string `json:"classType"`
}

func decodeExtras(t EventType, raw json.RawMessage) (Extras, error) {
	var x Extras
	switch t {
	case CoronalMassEjection:
		var w cmeWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return x, err
		}
		impact := predictedEarthImpact(w)
		x.PredictedEarthImpact = &impact
	case GeomagneticStorm:
		var w gstWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return x, err
		}
		for i, kp := range w.AllKpIndex {
			if i == 0 || kp.KpIndex > *x.KpIndex {
				v := kp.KpIndex
				x.KpIndex = &v
			}
		}
	case InterplanetaryShock:
		var w ipsWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return x, err
		}
		x.Location = &w.Location
	case SolarFlare:
		var w flrWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return x, err
		}
		x.ClassType = &w.ClassType
	}
	return x, nil
}

// predictedEarthImpact walks analyses newest first and returns the first
// non-empty prediction. An analysis predicts an impact when its newest
// ENLIL simulation with an estimated shock arrival exists; the
// simulation's isEarthGB decides between impact and glancing blow.
func predictedEarthImpact(w cmeWire) EarthImpact {
	analyses := w.Analyses
	sort.SliceStable(analyses, func(i, j int) bool {
		return parseTimeOrZero(analyses[i].SubmissionTime).After(parseTimeOrZero(analyses[j].SubmissionTime))
	})
	for _, a := range analyses {
		sims := a.EnlilList
		sort.SliceStable(sims, func(i, j int) bool {
			return parseTimeOrZero(sims[i].ModelCompletionTime).After(parseTimeOrZero(sims[j].ModelCompletionTime))
		})
		for _, s := range sims {
			if s.EstimatedShockArrivalTime == nil {
				continue
			}
			if s.IsEarthGB != nil && *s.IsEarthGB {
				return GlancingBlow
			}
			return Impact
		}
	}
	return NoImpact
}

func parseTimeOrZero(s string) time.Time {
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SortEventsByTime sorts events oldest first, keeping input order for ties.
func SortEventsByTime(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
}

// SortSummariesNewestFirst sorts summaries newest first, keeping input order
// for ties.
func SortSummariesNewestFirst(summaries []EventSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Time.After(summaries[j].Time)
	})
}
