// Package sessions builds and parses user keys.
//
// User keys identify one recipient for the lifetime of a conversation and are used
// as the coordination key by the turn gate, the correlator and the delivery queue:
//
//	{channel}:{applicationId}:{userId}
//
// Examples:
//
//	assistant:travel-bot:ABwppHHd8z
//	messenger:page-1234:2290384729
package sessions

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
)

// BuildUserKey builds the canonical user key.
func BuildUserKey(channel, applicationID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, applicationID, userID)
}

// UserKeyFor returns the key of the sender of an inbound event.
func UserKeyFor(ev bus.InboundEvent) string {
	return BuildUserKey(ev.Channel, ev.ApplicationID, ev.SenderID)
}

// RecipientKeyFor returns the key of the recipient of an outgoing action.
func RecipientKeyFor(a bus.OutgoingAction) string {
	return BuildUserKey(a.Channel, a.ApplicationID, a.RecipientID)
}

// ParseUserKey splits a user key into its parts.
// The user id may itself contain ':' and is returned whole.
// Returns ok=false if the key is not in the expected format.
func ParseUserKey(key string) (channel, applicationID, userID string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
