package validate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/validate"
)

func TestIdentifier_Valid(t *testing.T) {
	require.NoError(t, validate.Identifier("relation", "read"))
	require.NoError(t, validate.Identifier("relation", "can_read-v2"))
}

func TestIdentifier_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"starts with digit": "1read",
		"uppercase":        "Read",
		"bad character":    "read!",
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			err := validate.Identifier("relation", v)
			require.Error(t, err)
			var ve *validate.Error
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "relation", ve.Field)
		})
	}
}

func TestIdentifier_TooLong(t *testing.T) {
	long := "a"
	for i := 0; i < 1025; i++ {
		long += "a"
	}
	err := validate.Identifier("relation", long)
	require.Error(t, err)
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validate.ReasonTooLong, ve.Reason)
}

func TestNamespace_AllowsLeadingDigit(t *testing.T) {
	require.NoError(t, validate.Namespace("9acme"))
	require.NoError(t, validate.Namespace("acme-prod"))
}

func TestNamespace_Invalid(t *testing.T) {
	require.Error(t, validate.Namespace(""))
	require.Error(t, validate.Namespace("Acme"))
	require.Error(t, validate.Namespace("acme!"))
}

func TestFreeFormID_Valid(t *testing.T) {
	require.NoError(t, validate.FreeFormID("subject_id", "alice@example.com"))
	require.NoError(t, validate.FreeFormID("subject_id", "alice bob"))
}

func TestFreeFormID_RejectsLeadingTrailingWhitespace(t *testing.T) {
	require.Error(t, validate.FreeFormID("subject_id", " alice"))
	require.Error(t, validate.FreeFormID("subject_id", "alice "))
}

func TestFreeFormID_RejectsControlCharacters(t *testing.T) {
	err := validate.FreeFormID("subject_id", "alice\x00bob")
	require.Error(t, err)
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, validate.ReasonInvalidCharacter, ve.Reason)
}

func TestFreeFormID_AllowsTabNewlineCarriageReturn(t *testing.T) {
	require.NoError(t, validate.FreeFormID("reason", "line one\nline two\ttabbed"))
}

func TestIDArray_ReportsOffendingIndex(t *testing.T) {
	err := validate.IDArray("subject_ids", []string{"alice", "", "carol"})
	require.Error(t, err)
	var ve *validate.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, ve.Index)
}

func TestPositiveInterval(t *testing.T) {
	require.NoError(t, validate.PositiveInterval("extension_interval", time.Hour))
	require.Error(t, validate.PositiveInterval("extension_interval", 0))
	require.Error(t, validate.PositiveInterval("extension_interval", -time.Hour))
}

func TestNotPast(t *testing.T) {
	now := time.Now()
	require.NoError(t, validate.NotPast("expires_at", nil, now))
	future := now.Add(time.Hour)
	require.NoError(t, validate.NotPast("expires_at", &future, now))
	past := now.Add(-time.Hour)
	require.Error(t, validate.NotPast("expires_at", &past, now))
}
