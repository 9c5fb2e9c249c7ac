package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

func TestRollbarLogger(t *testing.T) {
	conf := core.NewConfig()
	conf.TestMode = true
	obs, logs := observer.New(zap.DebugLevel)
	l := NewRollbarLogger(zap.New(obs), conf)

	usr := personality.User{ID: "u1", Name: "Ada", Email: "ada@test.test"}
	err := errors.New("boom")
	l.Error("analysis failed", err, map[string]interface{}{"trigger": "explicit"}, usr)

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 1) {
		e := entries[0]
		assert.Equal(t, "analysis failed", e.Message)
		fields := e.ContextMap()
		assert.Equal(t, "explicit", fields["trigger"])
		assert.Equal(t, "u1", fields["userId"])
		assert.Contains(t, fields["error"], "boom")
	}

	args := l.prepare("msg", []interface{}{usr, err})
	assert.Equal(t, []interface{}{"msg", err}, args)
}
