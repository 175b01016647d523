// Package unixtime exposes time.Time as float unix seconds in JSON while Go
// code keeps working with time.Time.
package unixtime

import (
	"bytes"
	"math"
	"strconv"
	"time"
)

type Time time.Time

// New wraps t
func New(t time.Time) Time {
	return Time(t)
}

// Ptr wraps t, returning nil for the zero time so optional fields encode as null
func Ptr(t time.Time) *Time {
	if t.IsZero() {
		return nil
	}
	u := Time(t)
	return &u
}

func (t Time) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(tt.UnixMicro()) / 1e6
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

func (t *Time) UnmarshalJSON(s []byte) error {
	if bytes.Equal(s, []byte("null")) {
		*t = Time{}
		return nil
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return err
	}
	whole, frac := math.Modf(f)
	*(*time.Time)(t) = time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	return nil
}

func (t Time) Time() time.Time {
	return time.Time(t).UTC()
}
