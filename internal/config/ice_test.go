package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn1.example.com:3478", "turn2.example.com:3478"],
	    "username": "user",
	    "credential": "pass"
	  },
	  {
	    "urls": "turn3.example.com:3478"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "turn2.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
	if servers[0].Username != "user" || servers[0].Credential != "pass" {
		t.Fatalf("unexpected credentials: %+v", servers[0])
	}
	if got := servers[1].URLs; len(got) != 1 || got[0] != "turn3.example.com:3478" {
		t.Fatalf("unexpected single url: %#v", got)
	}
	if servers[1].Username != "" || servers[1].Credential != "" {
		t.Fatalf("expected empty credentials, got %+v", servers[1])
	}
}

func TestParseICEServersJSON_DeprecatedUserName(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": ["turn.example.com:3478"], "user_name": "legacy", "credential": "c"}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if servers[0].Username != "legacy" {
		t.Fatalf("Username=%q, want legacy", servers[0].Username)
	}

	servers, err = ParseICEServersJSON(`[{"urls": ["turn.example.com:3478"], "username": "new", "user_name": "legacy"}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if servers[0].Username != "new" {
		t.Fatalf("Username=%q, want username to win over user_name", servers[0].Username)
	}
}

func TestParseICEServersJSON_KeepsEntriesWithoutURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": ["  "], "username": "u"}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 0 {
		t.Fatalf("expected one entry with no urls, got %#v", servers)
	}
}

func TestParseICEServersJSON_Empty(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON("  ")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if servers != nil {
		t.Fatalf("expected nil, got %#v", servers)
	}
}

func TestParseICEServersJSON_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := ParseICEServersJSON(`{"urls": "x"}`); err == nil {
		t.Fatalf("expected error for non-array payload")
	}
}
