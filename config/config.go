package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

/*
Everything the bouncer reads from its environment
*/
type Config struct {
	LapiURL        string
	ApiKey         string
	StreamInterval time.Duration
	RequestTimeout time.Duration
	Startup        bool
	Scopes         []string
	Origins        []string
	ScenariosIn    []string
	ScenariosNotIn []string
	HaltOnError    bool
	CacheDuration  time.Duration
	LogLevel       string
	LogFormat      string
	TrustedProxies []string
	StatusPort     string
}

/*
Check for an environment variable value, if absent use a default value
*/
func OptionalEnv(varName string, optional string) string {
	envVar := os.Getenv(varName)
	if envVar == "" {
		return optional
	}
	return envVar
}

/*
Check for an environment variable value or the equivalent docker secret
*/
func RequiredEnv(varName string) (string, error) {
	envVar := os.Getenv(varName)
	envVarFileName := os.Getenv(varName + "_FILE")
	if envVar == "" && envVarFileName == "" {
		return "", errors.Newf("the required env var %s is not provided", varName)
	} else if envVar == "" && envVarFileName != "" {
		envVarFromFile, err := os.ReadFile(envVarFileName)
		if err != nil {
			return "", errors.Wrapf(err, "could not read env var %s from file %s", varName, envVarFileName)
		}
		// secrets files usually end with a newline, which is not part of the value
		return strings.TrimRight(string(envVarFromFile), "\r\n"), nil
	}
	return envVar, nil
}

/*
Check for an environment variable value with expected possibilities, falling back to a default when absent
*/
func ExpectedEnv(varName string, optional string, expected []string) (string, error) {
	envVar := OptionalEnv(varName, optional)
	if !contains(expected, envVar) {
		return "", errors.Newf("the value for env var %s is not expected. Expected values are %v", varName, expected)
	}
	return envVar, nil
}

func contains(source []string, target string) bool {
	for _, a := range source {
		if a == target {
			return true
		}
	}
	return false
}

func durationEnv(varName string, optional string) (time.Duration, error) {
	value := OptionalEnv(varName, optional)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "the value for env var %s is not a duration", varName)
	}
	if duration < 0 {
		return 0, errors.Newf("the value for env var %s must not be negative", varName)
	}
	return duration, nil
}

func boolEnv(varName string, optional bool) (bool, error) {
	value := OptionalEnv(varName, strconv.FormatBool(optional))
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "the value for env var %s is not a boolean", varName)
	}
	return parsed, nil
}

// listEnv splits a comma separated value, dropping blanks.
func listEnv(varName string) []string {
	var list []string
	for _, item := range strings.Split(os.Getenv(varName), ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

/*
Load reads and validates the whole configuration, reporting every invalid variable at once.
The URL and API key are only checked for presence here, the LAPI client validates their content.
*/
func Load() (Config, error) {
	var problems []string
	collect := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	cfg := Config{
		Scopes:         listEnv("CROWDSEC_LAPI_STREAM_SCOPES"),
		Origins:        listEnv("CROWDSEC_LAPI_STREAM_ORIGINS"),
		ScenariosIn:    listEnv("CROWDSEC_LAPI_STREAM_SCENARIOS_CONTAINING"),
		ScenariosNotIn: listEnv("CROWDSEC_LAPI_STREAM_SCENARIOS_NOT_CONTAINING"),
		LogLevel:       OptionalEnv("CROWDSEC_BOUNCER_LOG_LEVEL", "info"),
		TrustedProxies: strings.Split(OptionalEnv("TRUSTED_PROXIES", "0.0.0.0/0"), ","),
		StatusPort:     OptionalEnv("PORT", "8080"),
	}
	var err error

	cfg.LapiURL, err = RequiredEnv("CROWDSEC_LAPI_URL")
	collect(err)
	cfg.ApiKey, err = RequiredEnv("CROWDSEC_BOUNCER_API_KEY")
	collect(err)
	cfg.StreamInterval, err = durationEnv("CROWDSEC_LAPI_STREAM_MODE_INTERVAL", "1m")
	collect(err)
	cfg.RequestTimeout, err = durationEnv("CROWDSEC_LAPI_REQUEST_TIMEOUT", "30s")
	collect(err)
	cfg.CacheDuration, err = durationEnv("CROWDSEC_BOUNCER_DEFAULT_CACHE_DURATION", "15m")
	collect(err)
	cfg.Startup, err = boolEnv("CROWDSEC_LAPI_STREAM_STARTUP", true)
	collect(err)
	cfg.HaltOnError, err = boolEnv("CROWDSEC_LAPI_STREAM_HALT_ON_ERROR", false)
	collect(err)
	cfg.LogFormat, err = ExpectedEnv("CROWDSEC_BOUNCER_LOG_FORMAT", "json", []string{"json", "console"})
	collect(err)

	if len(problems) > 0 {
		return Config{}, errors.Newf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}
