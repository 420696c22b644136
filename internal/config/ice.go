package config

import (
	"encoding/json"
	"strings"
)

const envVarICEServersJSON = "OME_WHIP_ICE_SERVERS_JSON"

// ICEServer is an externally operated TURN server advertised to WHIP clients
// next to the built-in relay. URLs are host:port values; the advertisement
// builder adds the turn: scheme and transport parameter.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`

	// UserName is the deprecated spelling of Username, honored for existing
	// deployments.
	UserName string `json:"user_name,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses OME_WHIP_ICE_SERVERS_JSON.
//
// Entries without URLs are kept: the advertisement builder reports and skips
// them so the warning shows up next to the rest of the relay diagnostics.
func ParseICEServersJSON(raw string) ([]ICEServer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]ICEServer, 0, len(servers))
	for _, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}

		username := strings.TrimSpace(server.Username)
		if username == "" {
			username = strings.TrimSpace(server.UserName)
		}

		out = append(out, ICEServer{
			URLs:       urls,
			Username:   username,
			Credential: server.Credential,
		})
	}
	return out, nil
}
