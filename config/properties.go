package config

import (
	"sync/atomic"

	"github.com/antithesishq/antithesis-sdk-go/assert"
)

var antithesisEnabled atomic.Bool

func SetAntithesisMode(enabled bool) {
	antithesisEnabled.Store(enabled)
}

func IsAntithesisEnabled() bool {
	return antithesisEnabled.Load()
}

func AssertAlways(condition bool, message string, details map[string]interface{}) {
	if antithesisEnabled.Load() {
		assert.Always(condition, message, details)
	}
}

func AssertSometimes(condition bool, message string, details map[string]interface{}) {
	if antithesisEnabled.Load() {
		assert.Sometimes(condition, message, details)
	}
}

func AssertReachable(message string, details map[string]interface{}) {
	if antithesisEnabled.Load() {
		assert.Reachable(message, details)
	}
}

func AssertUnreachable(message string, details map[string]interface{}) {
	if antithesisEnabled.Load() {
		assert.Unreachable(message, details)
	}
}
