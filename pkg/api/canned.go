package api

import "fmt"

// Canned response bodies, byte-identical to preserve client compatibility
// All but cannedGetRecordingTextTracksNotFoundJSON (a JSON body) are text/xml
// with CRLF line breaks, matching the backend protocol's own replies.
const (
	cannedVersion              = "<response>\r\n<returncode>SUCCESS</returncode>\r\n<version>2.0</version>\r\n</response>"
	cannedChecksumError        = "<response>\r\n<returncode>FAILED</returncode>\r\n<messageKey>checksumError</messageKey>\r\n<message>Checksums do not match</message>\r\n</response>"
	cannedMissingMeetingID     = "<response>\r\n<returncode>FAILED</returncode>\r\n<messageKey>missingParamMeetingID</messageKey>\r\n<message>You must specify a meeting ID for the meeting.</message>\r\n</response>"
	cannedCreateLimitReached   = "<response>\r\n<returncode>FAILED</returncode>\r\n<message>Meeting/Attendee limit reached.</message>\r\n</response>"
	cannedCreateNoNodeAvailable = "<response>\r\n<returncode>FAILED</returncode>\r\n<message>No node available.</message>\r\n</response>"
	cannedIsMeetingRunningFalse = "<response>\r\n<returncode>SUCCESS</returncode>\r\n<running>false</running>\r\n</response>"
	cannedGetMeetingsNoMeetings = "<response>\r\n<returncode>SUCCESS</returncode>\r\n<meetings/>\r\n<messageKey>noMeetings</messageKey>\r\n<message>no meetings were found on this server</message>\r\n</response>"
	cannedGetMeetingNotFound    = "<response>\r\n<returncode>FAILED</returncode>\r\n<messageKey>notFound</messageKey>\r\n<message>We could not find a meeting with that meeting ID - perhaps the meeting is not yet running?</message>\r\n</response>"
	cannedNoRecordings          = "<response>\r\n<returncode>SUCCESS</returncode>\r\n<recordings></recordings>\r\n<messageKey>noRecordings</messageKey>\r\n<message>There are no recordings for the meeting(s).</message>\r\n</response>"
	cannedGetRecordingTextTracksNotFoundJSON = `{"response":{"returncode":"FAILED","messageKey":"noRecordings","message":"No recording found"}}`
	cannedMissingRecordID       = "<response>\r\n<returncode>FAILED</returncode>\r\n<messageKey>missingParamRecordID</messageKey>\r\n<message>You must specify a recordID.</message>\r\n</response>"
	cannedMissingPublish        = "<response>\r\n<returncode>FAILED</returncode>\r\n<messageKey>missingParamPublish</messageKey>\r\n<message>You must specify a publish value true or false.</message>\r\n</response>"
)

// cannedGeneralResult reproduces RETURN_STRING_GENERAL_FAILED.format(tag,
// tag) — the template used for record-published, record-deleted and
// record-updated acknowledgements, keyed by the element name it reports.
func cannedGeneralResult(tag string, ok bool) string {
	return fmt.Sprintf("<response>\n\t<returncode>SUCCESS</returncode>\n\t<%s>%t</%s>\n</response>", tag, ok, tag)
}
