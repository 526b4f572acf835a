package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord(now time.Time) *LogRecord {
	return &LogRecord{
		ID:        "r1",
		Timestamp: now.Add(-time.Minute),
		DeviceID:  "dev-1",
		Level:     LevelInfo,
		Message:   "hello",
	}
}

func TestValidateAcceptsValidRecord(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := validRecord(now)
	require.NoError(t, r.Validate(now))
}

func TestValidateRejectsFutureTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := validRecord(now)
	r.Timestamp = now.Add(25 * time.Hour)
	err := r.Validate(now)
	require.Error(t, err)
}

func TestValidateRejectsAncientTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := validRecord(now)
	r.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Error(t, r.Validate(now))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	missingID := validRecord(now)
	missingID.ID = ""
	require.Error(t, missingID.Validate(now))

	missingDevice := validRecord(now)
	missingDevice.DeviceID = ""
	require.Error(t, missingDevice.Validate(now))

	missingMessage := validRecord(now)
	missingMessage.Message = ""
	require.Error(t, missingMessage.Validate(now))

	noLevel := validRecord(now)
	noLevel.Level = LevelUnknown
	require.Error(t, noLevel.Validate(now))
}

func TestValidateRejectsOversizeFields(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	r := validRecord(now)
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	r.ID = string(long)
	require.Error(t, r.Validate(now))

	r2 := validRecord(now)
	r2.Tags = []string{""}
	require.Error(t, r2.Validate(now))
}

func TestValidateErrorInfo(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := validRecord(now)
	r.Error = &ErrorInfo{Message: ""}
	require.Error(t, r.Validate(now))

	r.Error.Message = "boom"
	require.NoError(t, r.Validate(now))
}

func TestEscapeInPlaceIsIdempotent(t *testing.T) {
	r := &LogRecord{
		ID:       `<id>`,
		DeviceID: `dev&1`,
		Message:  `<script>alert(1)</script>`,
		Category: `a"b`,
		Tags:     []string{"<tag>"},
		Error:    &ErrorInfo{Code: "<c>", Message: "<m>"},
	}
	r.EscapeInPlace()
	once := *r
	onceTags := append([]string(nil), r.Tags...)

	r.EscapeInPlace()

	assert.Equal(t, once.ID, r.ID)
	assert.Equal(t, once.DeviceID, r.DeviceID)
	assert.Equal(t, once.Message, r.Message)
	assert.Equal(t, once.Category, r.Category)
	assert.Equal(t, onceTags, r.Tags)
	assert.Equal(t, once.Error.Code, r.Error.Code)
	assert.Equal(t, once.Error.Message, r.Error.Message)
}

func TestParseLevelAliases(t *testing.T) {
	cases := map[string]Level{
		"info":    LevelInfo,
		"INFO":    LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"err":     LevelError,
		"error":   LevelError,
		"crit":    LevelFatal,
		"fatal":   LevelFatal,
		"dbg":     LevelDebug,
		"trace":   LevelTrace,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	_, err := ParseLevel("bogus")
	require.Error(t, err)
	_, err = ParseLevel("")
	require.Error(t, err)
}
