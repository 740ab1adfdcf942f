package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOfNormalizesToUTC(t *testing.T) {
	dubai := time.FixedZone("GST", 4*60*60)
	// 02:00 in Dubai on Jan 2nd is still Jan 1st in UTC.
	ts := time.Date(2025, time.January, 2, 2, 0, 0, 0, dubai)
	assert.Equal(t, "2025-01-01", DateOf(ts).String())
}

func TestVestingReleaseDay(t *testing.T) {
	assert.Equal(t, "2026-03-01", VestingReleaseDay(MustParseDate("2025-03-01")).String())
	// release is 365 calendar days, not "same date next year"
	assert.Equal(t, "2025-02-28", VestingReleaseDay(MustParseDate("2024-02-29")).String())
	assert.Equal(t, "2025-03-01", VestingReleaseDay(MustParseDate("2024-03-01")).String())
}

func TestDateOrdering(t *testing.T) {
	a := MustParseDate("2025-1-9")
	b := MustParseDate("2025-01-10")
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(NewDate(2025, time.January, 9)))
	assert.Equal(t, b, a.AddDays(1))
}

func TestDateJSON(t *testing.T) {
	d := MustParseDate("2025-06-30")
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-06-30"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	require.Error(t, json.Unmarshal([]byte(`"30/06/2025"`), &back))
}
