package config

import (
	"os"
	"strconv"
	"time"
)

// RulesConfig carries the money-handling knobs: rollover requirement,
// affiliate commission, deposit intent lifetime. All amounts in centavos.
type RulesConfig struct {
	RolloverMultiplier  int64
	CommissionMode      string // "fixed" or "percent"
	CommissionFixed     int64
	CommissionPercent   float64
	MinDepositAmount    int64
	MaxDepositAmount    int64
	MinWithdrawalAmount int64
	IntentTimeout       time.Duration
	SweepInterval       time.Duration
	AllowLateSettlement bool
}

func LoadRulesConfig() *RulesConfig {
	return &RulesConfig{
		RolloverMultiplier:  getEnvAsInt64("RULES_ROLLOVER_MULTIPLIER", 2),
		CommissionMode:      getEnv("RULES_COMMISSION_MODE", "fixed"),
		CommissionFixed:     getEnvAsInt64("RULES_COMMISSION_FIXED", 1000),
		CommissionPercent:   getEnvAsFloat("RULES_COMMISSION_PERCENT", 0.2),
		MinDepositAmount:    getEnvAsInt64("RULES_MIN_DEPOSIT", 500),
		MaxDepositAmount:    getEnvAsInt64("RULES_MAX_DEPOSIT", 500000),
		MinWithdrawalAmount: getEnvAsInt64("RULES_MIN_WITHDRAWAL", 1000),
		IntentTimeout:       getEnvAsDuration("RULES_INTENT_TIMEOUT", 30*time.Minute),
		SweepInterval:       getEnvAsDuration("RULES_SWEEP_INTERVAL", 5*time.Minute),
		AllowLateSettlement: getEnvAsBool("RULES_ALLOW_LATE_SETTLEMENT", false),
	}
}

// CommissionFor returns the commission owed to an affiliate for a qualifying
// deposit, under the mode configured at payment time.
func (c *RulesConfig) CommissionFor(depositAmount int64) int64 {
	if c.CommissionMode == "percent" {
		return int64(float64(depositAmount) * c.CommissionPercent)
	}
	return c.CommissionFixed
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
