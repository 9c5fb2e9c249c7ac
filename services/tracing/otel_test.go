package tracingsvc

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

func TestSetup(t *testing.T) {
	conf := core.NewConfig()

	t.Run("disabled", func(t *testing.T) {
		conf.Tracing.Enabled = false
		shutdown, err := Setup(conf, core.NewNopLogger())
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("exports spans", func(t *testing.T) {
		out := new(bytes.Buffer)
		shutdown, err := setup(conf, out, core.NewNopLogger())
		require.NoError(t, err)

		_, span := otel.Tracer("test").Start(context.Background(), "personality.test")
		span.End()

		require.NoError(t, shutdown(context.Background()))
		assert.Contains(t, out.String(), "personality.test")
	})
}
