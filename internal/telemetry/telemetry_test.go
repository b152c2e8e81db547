package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{ServiceName: "shinrai"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	counter, err := Meter("shinrai/test").Int64Counter("shinrai.test")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	_, span := Tracer("shinrai/test").Start(context.Background(), "noop")
	span.End()
}
