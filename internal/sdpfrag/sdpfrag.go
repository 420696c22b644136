// Package sdpfrag reads and writes application/trickle-ice-sdpfrag bodies
// (RFC 8840), the payload of WHIP PATCH requests and responses.
package sdpfrag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
)

const ContentType = "application/trickle-ice-sdpfrag"

var ErrEmpty = errors.New("sdpfrag: empty fragment")

// Fragment is a parsed SDP fragment. Session-level attributes apply to every
// media section that does not override them.
type Fragment struct {
	ICEUfrag   string
	ICEPwd     string
	ICEOptions string
	// Group is the value of a=group, e.g. "BUNDLE 0 1".
	Group string
	// Attributes keeps session-level a= lines this package does not interpret,
	// without the "a=" prefix.
	Attributes []string

	Media []Media
}

type Media struct {
	// Desc is the m= value, e.g. "audio 9 UDP/TLS/RTP/SAVPF 111".
	Desc     string
	Mid      string
	ICEUfrag string
	ICEPwd   string
	// Candidates are candidate-attribute values without the "candidate:"
	// prefix.
	Candidates      []string
	EndOfCandidates bool
	Attributes      []string
}

// Parse parses body. Every non-blank line must have the form <letter>=<value>
// and every candidate must be a valid ICE candidate.
func Parse(body []byte) (*Fragment, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, ErrEmpty
	}

	f := &Fragment{}
	var cur *Media
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' || line[0] < 'a' || line[0] > 'z' {
			return nil, fmt.Errorf("sdpfrag: line %d: malformed line %q", i+1, line)
		}
		key, value := line[0], line[2:]

		switch key {
		case 'm':
			f.Media = append(f.Media, Media{Desc: value})
			cur = &f.Media[len(f.Media)-1]
		case 'a':
			if err := f.parseAttribute(cur, value); err != nil {
				return nil, fmt.Errorf("sdpfrag: line %d: %w", i+1, err)
			}
		default:
			// Other session description lines carry nothing a fragment needs.
		}
	}
	return f, nil
}

func (f *Fragment) parseAttribute(cur *Media, attr string) error {
	name, value, _ := strings.Cut(attr, ":")
	if cur == nil {
		switch name {
		case "ice-ufrag":
			f.ICEUfrag = value
		case "ice-pwd":
			f.ICEPwd = value
		case "ice-options":
			f.ICEOptions = value
		case "group":
			f.Group = value
		case "candidate", "end-of-candidates", "mid":
			return fmt.Errorf("%s outside of a media section", name)
		default:
			f.Attributes = append(f.Attributes, attr)
		}
		return nil
	}

	switch name {
	case "mid":
		cur.Mid = value
	case "ice-ufrag":
		cur.ICEUfrag = value
	case "ice-pwd":
		cur.ICEPwd = value
	case "candidate":
		if _, err := ice.UnmarshalCandidate(value); err != nil {
			return fmt.Errorf("invalid candidate %q: %w", value, err)
		}
		cur.Candidates = append(cur.Candidates, value)
	case "end-of-candidates":
		cur.EndOfCandidates = true
	default:
		cur.Attributes = append(cur.Attributes, attr)
	}
	return nil
}

// Ufrag returns the ICE username fragment the fragment was generated for:
// the session-level value, or the first media-level one.
func (f *Fragment) Ufrag() string {
	if f.ICEUfrag != "" {
		return f.ICEUfrag
	}
	for _, m := range f.Media {
		if m.ICEUfrag != "" {
			return m.ICEUfrag
		}
	}
	return ""
}

// String serializes f with CRLF line endings.
func (f *Fragment) String() string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	if f.ICEOptions != "" {
		line("a=ice-options:%s", f.ICEOptions)
	}
	if f.Group != "" {
		line("a=group:%s", f.Group)
	}
	if f.ICEUfrag != "" {
		line("a=ice-ufrag:%s", f.ICEUfrag)
	}
	if f.ICEPwd != "" {
		line("a=ice-pwd:%s", f.ICEPwd)
	}
	for _, attr := range f.Attributes {
		line("a=%s", attr)
	}
	for _, m := range f.Media {
		line("m=%s", m.Desc)
		if m.Mid != "" {
			line("a=mid:%s", m.Mid)
		}
		if m.ICEUfrag != "" {
			line("a=ice-ufrag:%s", m.ICEUfrag)
		}
		if m.ICEPwd != "" {
			line("a=ice-pwd:%s", m.ICEPwd)
		}
		for _, attr := range m.Attributes {
			line("a=%s", attr)
		}
		for _, c := range m.Candidates {
			line("a=candidate:%s", c)
		}
		if m.EndOfCandidates {
			line("a=end-of-candidates")
		}
	}
	return b.String()
}
