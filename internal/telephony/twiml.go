package telephony

import (
	"bytes"
	"encoding/xml"
)

// VoiceResponse is a minimal Twilio Markup Language builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives the call scripts use.
type VoiceResponse struct {
	verbs []any
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name   `xml:"Gather"`
	Input         string     `xml:"input,attr,omitempty"`
	Timeout       int        `xml:"timeout,attr,omitempty"`
	SpeechTimeout string     `xml:"speechTimeout,attr,omitempty"`
	NumDigits     int        `xml:"numDigits,attr,omitempty"`
	Action        string     `xml:"action,attr,omitempty"`
	Method        string     `xml:"method,attr,omitempty"`
	Says          []twimlSay `xml:"Say"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Gather collects one keypress or an utterance and posts it to Action.
type Gather struct {
	Action         string
	TimeoutSeconds int
	Prompt         string
	Voice          string
	Language       string
}

func (r *VoiceResponse) Say(text, voice, language string) *VoiceResponse {
	r.verbs = append(r.verbs, twimlSay{Voice: voice, Language: language, Text: text})
	return r
}

func (r *VoiceResponse) Pause(seconds int) *VoiceResponse {
	r.verbs = append(r.verbs, twimlPause{Length: seconds})
	return r
}

func (r *VoiceResponse) Gather(g Gather) *VoiceResponse {
	r.verbs = append(r.verbs, twimlGather{
		Input:         "speech dtmf",
		Timeout:       g.TimeoutSeconds,
		SpeechTimeout: "auto",
		NumDigits:     1,
		Action:        g.Action,
		Method:        "POST",
		Says:          []twimlSay{{Voice: g.Voice, Language: g.Language, Text: g.Prompt}},
	})
	return r
}

func (r *VoiceResponse) Redirect(url string) *VoiceResponse {
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

func (r *VoiceResponse) Hangup() *VoiceResponse {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// Render encodes the response as an XML document.
func (r *VoiceResponse) Render() (string, error) {
	doc := twimlResponse{Verbs: r.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
