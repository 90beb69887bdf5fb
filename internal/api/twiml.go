package api

import (
	"encoding/xml"
	"log/slog"
	"net/url"

	"github.com/BTreeMap/CallPipe/internal/flow"
	"github.com/BTreeMap/CallPipe/internal/models"
)

// Twilio gather and recording defaults
const (
	// DefaultGatherTimeoutSeconds is how long Twilio waits for a digit before
	// falling through to the redirect, which reaches the engine as an empty
	// answer.
	DefaultGatherTimeoutSeconds = 8
	// DefaultRecordMaxLengthSeconds bounds recordings when the question does
	// not set its own limit.
	DefaultRecordMaxLengthSeconds = 120
)

// twimlResponse models the subset of TwiML verbs the call flow uses.
// Marshaled with encoding/xml so prompt text is escaped correctly.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Verbs   []interface{} `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Input     string   `xml:"input,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Timeout   int      `xml:"timeout,attr"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	Say       twimlSay `xml:"Say"`
}

type twimlRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	MaxLength int      `xml:"maxLength,attr"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// renderTwiML serializes a TwiML response document with the XML header.
func renderTwiML(resp twimlResponse) []byte {
	body, err := xml.Marshal(resp)
	if err != nil {
		// The verb structs contain nothing unmarshalable; keep the call alive
		// with a bare hangup if this ever trips.
		slog.Error("renderTwiML marshal error", "error", err)
		body = []byte("<Response><Hangup/></Response>")
	}
	return append([]byte(xml.Header), body...)
}

// directiveTwiML translates an engine directive into the TwiML document that
// realizes it. sessionID is carried through webhook query parameters so
// follow-up events can be correlated without Twilio-side state.
func (s *Server) directiveTwiML(d flow.Directive, sessionID string) []byte {
	switch d.Type {
	case flow.DirectivePlayPrompt:
		return renderTwiML(s.promptTwiML(d.Question, sessionID))
	default:
		return renderTwiML(twimlResponse{Verbs: []interface{}{twimlHangup{}}})
	}
}

// promptTwiML builds the gather or record document for a question prompt.
func (s *Server) promptTwiML(q *models.Question, sessionID string) twimlResponse {
	params := url.Values{}
	params.Set("session", sessionID)
	params.Set("question", q.ID)

	switch q.Type {
	case models.QuestionTypeVoiceRecording:
		maxLength := q.MaxLength
		if maxLength <= 0 {
			maxLength = DefaultRecordMaxLengthSeconds
		}
		action := s.webhookURL("/twilio/recording") + "?" + params.Encode()
		return twimlResponse{Verbs: []interface{}{
			twimlSay{Text: q.Text},
			twimlRecord{
				Action:    action,
				Method:    "POST",
				MaxLength: maxLength,
				PlayBeep:  true,
			},
			// A caller who stays silent past the recording window falls
			// through here and reaches the engine as an empty answer.
			twimlRedirect{Method: "POST", URL: action},
		}}
	default:
		action := s.webhookURL("/twilio/gather") + "?" + params.Encode()
		return twimlResponse{Verbs: []interface{}{
			twimlGather{
				Input:     "dtmf",
				NumDigits: numDigitsFor(q),
				Timeout:   DefaultGatherTimeoutSeconds,
				Action:    action,
				Method:    "POST",
				Say:       twimlSay{Text: q.Text},
			},
			// Gather timeout falls through to this redirect, which posts the
			// same action with no digits.
			twimlRedirect{Method: "POST", URL: action},
		}}
	}
}

// numDigitsFor returns the digit count to gather for a DTMF question. Options
// are single key presses unless a key is longer.
func numDigitsFor(q *models.Question) int {
	n := 1
	for _, opt := range q.Options {
		if len(opt.Key) > n {
			n = len(opt.Key)
		}
	}
	return n
}

// hangupTwiML is the terminal document for finalized calls.
func hangupTwiML() []byte {
	return renderTwiML(twimlResponse{Verbs: []interface{}{twimlHangup{}}})
}

// rejectTwiML speaks a short notice and hangs up; used when a webhook arrives
// for a call the server cannot serve.
func rejectTwiML(message string) []byte {
	return renderTwiML(twimlResponse{Verbs: []interface{}{
		twimlSay{Text: message},
		twimlHangup{},
	}})
}
