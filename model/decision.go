package model

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

/*
Data representing a decision made by Crowdsec
*/
type Decision struct {
	// the duration of the decision, as reported by LAPI (e.g. "3h59m58.41s")
	Duration string `json:"duration"`
	// only set by LAPI for GET operations
	Id        *int64       `json:"id,omitempty"`
	Origin    Origin       `json:"origin"`
	Scenario  string       `json:"scenario"`
	Scope     Scope        `json:"scope"`
	Simulated *bool        `json:"simulated,omitempty"`
	Type      DecisionType `json:"type"`
	Until     *time.Time   `json:"until,omitempty"`
	// only relevant for LAPI->CAPI
	UUID  *string `json:"uuid,omitempty"`
	Value string  `json:"value"`
}

// NewDecision returns a decision with the default origin, scope and type.
func NewDecision() Decision {
	return Decision{
		Origin: OriginCscli,
		Scope:  ScopeIP,
		Type:   DecisionBan,
	}
}

// decisionWire only exists to tell a missing field apart from an empty one.
type decisionWire struct {
	Duration  *string       `json:"duration" validate:"required"`
	Id        *int64        `json:"id"`
	Origin    *Origin       `json:"origin" validate:"required"`
	Scenario  *string       `json:"scenario" validate:"required"`
	Scope     *Scope        `json:"scope" validate:"required"`
	Simulated *bool         `json:"simulated"`
	Type      *DecisionType `json:"type" validate:"required"`
	Until     *time.Time    `json:"until"`
	UUID      *string       `json:"uuid"`
	Value     *string       `json:"value" validate:"required"`
}

func (d *Decision) UnmarshalJSON(data []byte) error {
	var wire decisionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := validate.Struct(wire); err != nil {
		return errors.Wrap(err, "incomplete decision")
	}

	*d = Decision{
		Duration:  *wire.Duration,
		Id:        wire.Id,
		Origin:    *wire.Origin,
		Scenario:  *wire.Scenario,
		Scope:     *wire.Scope,
		Simulated: wire.Simulated,
		Type:      *wire.Type,
		Until:     wire.Until,
		UUID:      wire.UUID,
		Value:     *wire.Value,
	}
	return nil
}

// Expiration tells how long the decision stays active from now. Until wins over Duration,
// fallback is used when neither gives a usable answer.
func (d Decision) Expiration(now time.Time, fallback time.Duration) time.Duration {
	if d.Until != nil {
		return d.Until.Sub(now)
	}
	if duration, err := time.ParseDuration(d.Duration); err == nil {
		return duration
	}
	return fallback
}

// DecisionsResponse is one answer of the decisions stream route.
type DecisionsResponse struct {
	New     []Decision `json:"new"`
	Deleted []Decision `json:"deleted"`
}

// UnmarshalJSON requires both keys but accepts null for either, LAPI sends null instead of [].
func (r *DecisionsResponse) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	decoded := DecisionsResponse{}
	for key, target := range map[string]*[]Decision{"new": &decoded.New, "deleted": &decoded.Deleted} {
		raw, ok := fields[key]
		if !ok {
			return errors.Newf("missing field %q", key)
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		if *target == nil {
			*target = []Decision{}
		}
	}

	*r = decoded
	return nil
}
