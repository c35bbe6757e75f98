package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/casasegura/backend/internal/config"
)

func keepGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabled() config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "casasegura-test",
		SampleRatio: 1,
	}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_InstallsProviderAndPropagators(t *testing.T) {
	keepGlobals(t)

	shutdown, err := SetupOTel(context.Background(), enabled(), "1.2.3")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, isSDK)

	fields := otel.GetTextMapPropagator().Fields()
	require.Contains(t, fields, "traceparent")
	require.Contains(t, fields, "baggage")

	_, span := otel.Tracer("test").Start(context.Background(), "job.transition")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestSetupOTel_TLS(t *testing.T) {
	keepGlobals(t)
	cfg := enabled()
	cfg.Insecure = false

	shutdown, err := SetupOTel(context.Background(), cfg, "1.2.3")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupOTel_ExporterError(t *testing.T) {
	keepGlobals(t)
	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })
	boom := errors.New("exporter down")
	newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, boom
	}

	shutdown, err := SetupOTel(context.Background(), enabled(), "1.2.3")
	require.ErrorIs(t, err, boom)
	require.Nil(t, shutdown)
}

func TestSetupOTel_ResourceError(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()
	orig := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = orig })
	boom := errors.New("bad resource")
	newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, boom
	}

	_, err := SetupOTel(context.Background(), enabled(), "1.2.3")
	require.ErrorIs(t, err, boom)
	require.Equal(t, before, otel.GetTracerProvider())
}

func TestServiceResource_Attributes(t *testing.T) {
	res, err := newServiceResourceFn(context.Background(), "casasegura-test", "9.9.9")
	require.NoError(t, err)

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "casasegura-test", got["service.name"])
	require.Equal(t, "9.9.9", got["service.version"])
}

func TestClampRatio(t *testing.T) {
	require.Equal(t, 0.0, clampRatio(-1))
	require.Equal(t, 0.25, clampRatio(0.25))
	require.Equal(t, 1.0, clampRatio(3))
}
