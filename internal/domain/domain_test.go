package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"":         ActionAllow,
		"continue": ActionAllow,
		"redirect": ActionRedirect,
		"block":    ActionAbort,
		"ABORT":    ActionAbort,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAction("drop-table")
	assert.Error(t, err)
}

func TestActionOrdering(t *testing.T) {
	assert.True(t, ActionAbort.Outranks(ActionRedirect))
	assert.True(t, ActionRedirect.Outranks(ActionAllow))
	assert.False(t, ActionRedirect.Outranks(ActionRedirect))
	assert.False(t, ActionAllow.Disruptive())
}

func TestNewIntervention_URLOnlyForRedirect(t *testing.T) {
	iv := NewIntervention(ActionAbort, 403, "/x", true, "", false, -1)

	_, ok := iv.URL()
	assert.False(t, ok)
	assert.Zero(t, iv.PauseMs())

	clean := CleanIntervention()
	assert.Equal(t, 200, clean.Status())
	assert.False(t, clean.Disruptive())
}

func TestRule_YAML(t *testing.T) {
	src := `
id: block-admin
phase: uri
uri_prefix: /admin
action: block
status: 403
log: admin area
`
	var r Rule
	require.NoError(t, yaml.Unmarshal([]byte(src), &r))
	require.NoError(t, r.Validate())

	assert.Equal(t, PhaseURI, r.Phase)
	assert.Equal(t, ActionAbort, r.Action)
	assert.Equal(t, "/admin", r.URIPrefix)
	assert.Equal(t, "admin area", r.Log)
}

func TestRule_JSONFlattensCandidate(t *testing.T) {
	r := Rule{ID: "r1", Phase: PhaseRequestHeaders, Candidate: Candidate{Action: ActionRedirect, URL: "/login"}}

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"action":"redirect"`)
	assert.Contains(t, string(b), `"phase":"request_headers"`)

	var back Rule
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r.Candidate, back.Candidate)
}

func TestRule_Validate(t *testing.T) {
	assert.Error(t, (&Rule{}).Validate())
	assert.Error(t, (&Rule{ID: "x", Phase: PhaseLogging}).Validate())
	assert.Error(t, (&Rule{ID: "x", Candidate: Candidate{Action: ActionRedirect}}).Validate())
	assert.NoError(t, (&Rule{ID: "x", Candidate: Candidate{Action: ActionAbort}}).Validate())
}
