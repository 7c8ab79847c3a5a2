package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanAndRecordError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", attribute.String("k", "v"))
	defer span.End()

	assert.NotNil(t, ctx)
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
}

func TestIsProduction(t *testing.T) {
	assert.True(t, Config{Environment: "production"}.IsProduction())
	assert.True(t, Config{Environment: "staging"}.IsProduction())
	assert.False(t, Config{Environment: "development"}.IsProduction())
}
