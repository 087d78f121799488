// Package policy applies per-tenant BLOCK/SET/OVERRIDE parameter rules to
// create/join requests before they are signed and forwarded upstream.
package policy

import (
	"net/url"
	"regexp"

	"github.com/de-ibh/b3lb/pkg/models"
)

// Endpoint distinguishes the two whitelists the engine is allowed to touch.
type Endpoint string

const (
	Create Endpoint = "create"
	Join   Endpoint = "join"
)

// createWhitelist and joinWhitelist are the parameters a tenant rule may
// target for each endpoint class (distinct create vs join whitelists).
var createWhitelist = map[string]bool{
	"name": true, "meetingID": true, "attendeePW": true, "moderatorPW": true,
	"welcome": true, "dialNumber": true, "voiceBridge": true, "webVoice": true,
	"logoutURL": true, "maxParticipants": true, "record": true,
	"duration": true, "isBreakout": true, "parentMeetingID": true,
	"sequence": true, "freeJoin": true, "meta": true, "moderatorOnlyMessage": true,
	"autoStartRecording": true, "allowStartStopRecording": true,
	"webcamsOnlyForModerator": true, "logo": true, "copyright": true,
	"muteOnStart": true, "allowModsToUnmuteUsers": true,
	"lockSettingsDisableCam": true, "lockSettingsDisableMic": true,
	"lockSettingsDisablePrivateChat": true, "lockSettingsDisablePublicChat": true,
	"lockSettingsDisableNote": true, "lockSettingsLockedLayout": true,
	"lockSettingsLockOnJoin": true, "lockSettingsLockOnJoinConfigurable": true,
	"guestPolicy": true, "meetingKeepEvents": true, "endWhenNoModerator": true,
	"endWhenNoModeratorDelayInMinutes": true,
}

var joinWhitelist = map[string]bool{
	"fullName": true, "meetingID": true, "password": true, "createTime": true,
	"userID": true, "webVoiceConf": true, "configToken": true, "defaultLayout": true,
	"avatarURL": true, "redirect": true, "clientURL": true, "joinViaHtml5": true,
	"guest": true, "role": true, "excludeFromDashboard": true,
}

func whitelistFor(e Endpoint) map[string]bool {
	if e == Join {
		return joinWhitelist
	}
	return createWhitelist
}

// parameterRegexes validates SET/OVERRIDE rule values per parameter name.
// Parameters without an explicit entry fall back to a permissive default
// (anything non-empty).
var parameterRegexes = map[string]*regexp.Regexp{
	"record":                  regexp.MustCompile(`^(true|false)$`),
	"autoStartRecording":      regexp.MustCompile(`^(true|false)$`),
	"allowStartStopRecording": regexp.MustCompile(`^(true|false)$`),
	"muteOnStart":             regexp.MustCompile(`^(true|false)$`),
	"maxParticipants":         regexp.MustCompile(`^\d+$`),
	"duration":                regexp.MustCompile(`^\d+$`),
	"guestPolicy":             regexp.MustCompile(`^(ALWAYS_ACCEPT|ALWAYS_DENY|ASK_MODERATOR)$`),
	"defaultLayout":           regexp.MustCompile(`^[A-Za-z0-9_]+$`),
}

var defaultValueRegex = regexp.MustCompile(`^.+$`)

func regexFor(parameter string) *regexp.Regexp {
	if re, ok := parameterRegexes[parameter]; ok {
		return re
	}
	return defaultValueRegex
}

// Apply mutates params in place: for every tenant rule matching a
// whitelisted parameter for this endpoint, BLOCK drops the key, SET inserts
// only if absent, OVERRIDE always replaces. Rules whose value fails the
// per-parameter regex are skipped rather than applied.
func Apply(params url.Values, rules []models.Parameter, endpoint Endpoint) {
	whitelist := whitelistFor(endpoint)
	for _, rule := range rules {
		if !whitelist[rule.Parameter] {
			continue
		}
		switch rule.Mode {
		case models.ParameterBlock:
			params.Del(rule.Parameter)
		case models.ParameterSet:
			if params.Get(rule.Parameter) == "" && regexFor(rule.Parameter).MatchString(rule.Value) {
				params.Set(rule.Parameter, rule.Value)
			}
		case models.ParameterOverride:
			if regexFor(rule.Parameter).MatchString(rule.Value) {
				params.Set(rule.Parameter, rule.Value)
			}
		}
	}
}

// ApplyCreateDefaults implements the unconditional create-only behavior
// beyond the rule table: dropping dialNumber/voiceBridge. Recording toggles
// are forced off separately via ForceRecordingDisabled when recording isn't
// enabled for this request.
func ApplyCreateDefaults(params url.Values) {
	params.Del("dialNumber")
	params.Del("voiceBridge")
}

// ForceRecordingDisabled sets record/allowStartStopRecording/autoStartRecording
// to "false", used when recording is not enabled on both Tenant and Secret.
func ForceRecordingDisabled(params url.Values) {
	params.Set("record", "false")
	params.Set("allowStartStopRecording", "false")
	params.Set("autoStartRecording", "false")
}
