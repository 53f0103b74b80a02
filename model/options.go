package model

import (
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

type ScenarioMatch int

const (
	ScenarioContaining ScenarioMatch = iota
	ScenarioNotContaining
)

// ScenarioFilter keeps or drops decisions whose scenario name contains Value.
type ScenarioFilter struct {
	Match ScenarioMatch
	Value string
}

func Containing(value string) ScenarioFilter {
	return ScenarioFilter{Match: ScenarioContaining, Value: value}
}

func NotContaining(value string) ScenarioFilter {
	return ScenarioFilter{Match: ScenarioNotContaining, Value: value}
}

/*
Filters sent to the decisions stream route
*/
type StreamOptions struct {
	// If true, means that the bouncer is starting and a full list must be provided
	Startup   bool
	Scopes    []string
	Origins   []string
	Scenarios []ScenarioFilter
}

func (o StreamOptions) Clone() StreamOptions {
	return StreamOptions{
		Startup:   o.Startup,
		Scopes:    slices.Clone(o.Scopes),
		Origins:   slices.Clone(o.Origins),
		Scenarios: slices.Clone(o.Scenarios),
	}
}

// partitionScenarios splits the filters by match kind, keeping their relative order.
func (o StreamOptions) partitionScenarios() (containing, notContaining []string) {
	containing, notContaining = []string{}, []string{}
	for _, scenario := range o.Scenarios {
		switch scenario.Match {
		case ScenarioContaining:
			containing = append(containing, scenario.Value)
		case ScenarioNotContaining:
			notContaining = append(notContaining, scenario.Value)
		}
	}
	return containing, notContaining
}

type streamOptionsWire struct {
	Startup                bool     `json:"startup"`
	Scopes                 []string `json:"scopes"`
	Origins                []string `json:"origins"`
	ScenariosContaining    []string `json:"scenarios_containing"`
	ScenariosNotContaining []string `json:"scenarios_not_containing"`
}

func (o StreamOptions) MarshalJSON() ([]byte, error) {
	containing, notContaining := o.partitionScenarios()
	wire := streamOptionsWire{
		Startup:                o.Startup,
		Scopes:                 o.Scopes,
		Origins:                o.Origins,
		ScenariosContaining:    containing,
		ScenariosNotContaining: notContaining,
	}
	if wire.Scopes == nil {
		wire.Scopes = []string{}
	}
	if wire.Origins == nil {
		wire.Origins = []string{}
	}
	return json.Marshal(wire)
}

// Values encodes the options as query parameters. Defaults are left out, lists are comma joined.
func (o StreamOptions) Values() url.Values {
	values := url.Values{}
	if o.Startup {
		values.Set("startup", strconv.FormatBool(o.Startup))
	}
	containing, notContaining := o.partitionScenarios()
	for key, list := range map[string][]string{
		"scopes":                   o.Scopes,
		"origins":                  o.Origins,
		"scenarios_containing":     containing,
		"scenarios_not_containing": notContaining,
	} {
		if len(list) > 0 {
			values.Set(key, strings.Join(list, ","))
		}
	}
	return values
}

// StreamOptionsBuilder accumulates filters. Every method returns a new builder and leaves the receiver untouched.
type StreamOptionsBuilder struct {
	opts StreamOptions
}

func NewStreamOptionsBuilder() StreamOptionsBuilder {
	return StreamOptionsBuilder{}
}

func BuilderFrom(opts StreamOptions) StreamOptionsBuilder {
	return StreamOptionsBuilder{opts: opts.Clone()}
}

func (b StreamOptionsBuilder) Startup(startup bool) StreamOptionsBuilder {
	b.opts.Startup = startup
	return b
}

func (b StreamOptionsBuilder) Scope(scope string) StreamOptionsBuilder {
	// Clip forces append to copy, so sibling builders never share a backing array.
	b.opts.Scopes = append(slices.Clip(b.opts.Scopes), scope)
	return b
}

func (b StreamOptionsBuilder) Origin(origin string) StreamOptionsBuilder {
	b.opts.Origins = append(slices.Clip(b.opts.Origins), origin)
	return b
}

func (b StreamOptionsBuilder) Scenario(scenario ScenarioFilter) StreamOptionsBuilder {
	b.opts.Scenarios = append(slices.Clip(b.opts.Scenarios), scenario)
	return b
}

func (b StreamOptionsBuilder) ScenarioContaining(scenario string) StreamOptionsBuilder {
	return b.Scenario(Containing(scenario))
}

func (b StreamOptionsBuilder) ScenarioNotContaining(scenario string) StreamOptionsBuilder {
	return b.Scenario(NotContaining(scenario))
}

func (b StreamOptionsBuilder) Build() StreamOptions {
	return b.opts.Clone()
}
