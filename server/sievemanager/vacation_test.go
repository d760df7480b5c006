package sievemanager

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grufocom/postsible/consts"
)

func TestParseDate(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-01-10", want: time.Date(2025, 1, 10, 0, 0, 0, 0, berlin)},
		{in: " 2025-01-10 ", want: time.Date(2025, 1, 10, 0, 0, 0, 0, berlin)},
		{in: "2025-01-10 08:30", want: time.Date(2025, 1, 10, 8, 30, 0, 0, berlin)},
		{in: "2025-01-10 08:30:15", want: time.Date(2025, 1, 10, 8, 30, 15, 0, berlin)},
		{in: "2025-01-10T08:30", want: time.Date(2025, 1, 10, 8, 30, 0, 0, berlin)},
		{in: "2025-01-10T08:30:15", want: time.Date(2025, 1, 10, 8, 30, 15, 0, berlin)},
		{in: "2025-01-10T08:30:00Z", want: time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)},
		{in: "2025-01-10T08:30:00+05:00", want: time.Date(2025, 1, 10, 3, 30, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "tomorrow", wantErr: true},
		{in: "2025-13-01", wantErr: true},
		{in: "10.01.2025", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, berlin)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNewVacation(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		wantField string
	}{
		{name: "valid", start: "2025-01-01", end: "2025-01-10"},
		{name: "exactly thirty days", start: "2025-01-01", end: "2025-01-31"},
		{name: "mixed formats", start: "2025-01-01 09:00", end: "2025-01-02T17:00:00Z"},
		{name: "bad start", start: "soon", end: "2025-01-10", wantField: "start_date"},
		{name: "bad end", start: "2025-01-01", end: "", wantField: "end_date"},
		{name: "end equals start", start: "2025-01-01", end: "2025-01-01", wantField: "end_date"},
		{name: "end before start", start: "2025-01-10", end: "2025-01-01", wantField: "end_date"},
		{name: "over thirty days", start: "2025-01-01", end: "2025-01-31 00:00:01", wantField: "end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVacation("Out", "Away", tt.start, tt.end, time.UTC, 0)
			if tt.wantField != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, consts.ErrValidation))
				var verr *consts.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, &Vacation{Subject: "Out", Message: "Away", StartDate: tt.start, EndDate: tt.end, Enabled: true}, v)
		})
	}
}

func TestNewVacationCustomLimit(t *testing.T) {
	_, err := NewVacation("s", "m", "2025-01-01", "2025-01-09", time.UTC, 7)
	assert.ErrorIs(t, err, consts.ErrValidation)
	assert.Contains(t, err.Error(), "7 days")

	_, err = NewVacation("s", "m", "2025-01-01", "2025-01-08", time.UTC, 7)
	assert.NoError(t, err)
}

func TestVacationRecordKeys(t *testing.T) {
	data, err := encodeVacation(&Vacation{Subject: "Out", Message: "Away", StartDate: "2025-01-01", EndDate: "2025-01-10", Enabled: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"Out","message":"Away","start_date":"2025-01-01","end_date":"2025-01-10","enabled":true}`, string(data))

	_, err = decodeVacation([]byte("{not json"))
	assert.Error(t, err)
}
