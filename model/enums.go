package model

import "strings"

/*
	Origin, Scope and DecisionType are open enumerations: LAPI may introduce new values at any time,
	so any string is accepted and kept verbatim. The constants below are the values this bouncer knows about.
*/

// Origin is where a decision comes from.
type Origin string

const (
	OriginCscli    Origin = "cscli"
	OriginCrowdsec Origin = "crowdsec"
	OriginCAPI     Origin = "CAPI"
	OriginLists    Origin = "lists"
)

// OtherOrigin wraps a value LAPI sent that is not one of the known origins.
func OtherOrigin(value string) Origin {
	return Origin(value)
}

func (o Origin) IsKnown() bool {
	switch o {
	case OriginCscli, OriginCrowdsec, OriginCAPI, OriginLists:
		return true
	}
	return false
}

func (o Origin) String() string {
	return string(o)
}

// Scope is what a decision value applies to: an IP, a range, a username, etc.
type Scope string

const (
	ScopeIP    Scope = "ip"
	ScopeRange Scope = "range"
)

func OtherScope(value string) Scope {
	return Scope(value)
}

func (s Scope) IsKnown() bool {
	return s == ScopeIP || s == ScopeRange
}

// IsIP ignores case, LAPI answers with "Ip".
func (s Scope) IsIP() bool {
	return strings.EqualFold(string(s), string(ScopeIP))
}

func (s Scope) IsRange() bool {
	return strings.EqualFold(string(s), string(ScopeRange))
}

func (s Scope) String() string {
	return string(s)
}

// DecisionType is the remediation to apply: ban, captcha or something custom.
type DecisionType string

const (
	DecisionBan     DecisionType = "ban"
	DecisionCaptcha DecisionType = "captcha"
)

func OtherDecisionType(value string) DecisionType {
	return DecisionType(value)
}

func (t DecisionType) IsKnown() bool {
	return t == DecisionBan || t == DecisionCaptcha
}

func (t DecisionType) String() string {
	return string(t)
}
