package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("amount must be a number")

// Amount is a numeric order amount that also accepts numeric strings,
// so {"amount": 42} and {"amount": "42"} decode to the same value.
type Amount float64

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidAmount
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAmount
		}
		raw = strings.TrimSpace(s)
	}

	value, err := parseAmount(raw)
	if err != nil {
		return err
	}

	*a = Amount(value)
	return nil
}

// Float64 returns the amount as a float64
func (a Amount) Float64() float64 {
	return float64(a)
}

func parseAmount(raw string) (float64, error) {
	if raw == "" {
		return 0, ErrInvalidAmount
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrInvalidAmount
	}

	return value, nil
}
