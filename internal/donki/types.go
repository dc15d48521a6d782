// Package donki holds the domain model of the DONKI space weather feed:
// event and notification types, identifiers, decoded payloads and the
// error taxonomy shared by the network and cache layers.
package donki

import "fmt"

// EventType is a DONKI event category. The value is the API path segment.
type EventType string

const (
	CoronalMassEjection      EventType = "CME"
	GeomagneticStorm         EventType = "GST"
	InterplanetaryShock      EventType = "IPS"
	SolarFlare               EventType = "FLR"
	SolarEnergeticParticle   EventType = "SEP"
	MagnetopauseCrossing     EventType = "MPC"
	RadiationBeltEnhancement EventType = "RBE"
	HighSpeedStream          EventType = "HSS"
)

var eventTypes = []EventType{
	CoronalMassEjection,
	GeomagneticStorm,
	InterplanetaryShock,
	SolarFlare,
	SolarEnergeticParticle,
	MagnetopauseCrossing,
	RadiationBeltEnhancement,
	HighSpeedStream,
}

// EventTypes returns every event type in display order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// ParseEventType maps a wire name to an EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range eventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// DisplayName returns a human readable name.
func (t EventType) DisplayName() string {
	switch t {
	case CoronalMassEjection:
		return "Coronal mass ejection"
	case GeomagneticStorm:
		return "Geomagnetic storm"
	case InterplanetaryShock:
		return "Interplanetary shock"
	case SolarFlare:
		return "Solar flare"
	case SolarEnergeticParticle:
		return "Solar energetic particle"
	case MagnetopauseCrossing:
		return "Magnetopause crossing"
	case RadiationBeltEnhancement:
		return "Radiation belt enhancement"
	case HighSpeedStream:
		return "High speed stream"
	}
	return string(t)
}

// NotificationType is the messageType of a DONKI notification.
type NotificationType string

const (
	NotificationReport                   NotificationType = "Report"
	NotificationCoronalMassEjection      NotificationType = "CME"
	NotificationGeomagneticStorm         NotificationType = "GST"
	NotificationInterplanetaryShock      NotificationType = "IPS"
	NotificationSolarFlare               NotificationType = "FLR"
	NotificationSolarEnergeticParticle   NotificationType = "SEP"
	NotificationMagnetopauseCrossing     NotificationType = "MPC"
	NotificationRadiationBeltEnhancement NotificationType = "RBE"
	NotificationHighSpeedStream          NotificationType = "HSS"
)

var notificationTypes = []NotificationType{
	NotificationReport,
	NotificationCoronalMassEjection,
	NotificationGeomagneticStorm,
	NotificationInterplanetaryShock,
	NotificationSolarFlare,
	NotificationSolarEnergeticParticle,
	NotificationMagnetopauseCrossing,
	NotificationRadiationBeltEnhancement,
	NotificationHighSpeedStream,
}

// NotificationTypes returns every notification type.
func NotificationTypes() []NotificationType {
	out := make([]NotificationType, len(notificationTypes))
	copy(out, notificationTypes)
	return out
}

// ParseNotificationType maps a wire name to a NotificationType.
func ParseNotificationType(s string) (NotificationType, error) {
	for _, t := range notificationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

// IsAllNotificationTypes reports whether types names every notification type.
func IsAllNotificationTypes(types []NotificationType) bool {
	seen := make(map[NotificationType]bool, len(types))
	for _, t := range types {
		seen[t] = true
	}
	for _, t := range notificationTypes {
		if !seen[t] {
			return false
		}
	}
	return true
}
