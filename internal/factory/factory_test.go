package factory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/processor/googleanalytics"
	"github.com/roach88/measure/internal/registry"
	"github.com/roach88/measure/internal/testutil"
)

type stubStorage struct {
	params measure.Options
}

func (s *stubStorage) Load(context.Context, string) (any, bool, error) { return nil, false, nil }
func (s *stubStorage) Save(context.Context, string, any, measure.TTL) error {
	return nil
}

func newStubStorage(params measure.Options) (*stubStorage, error) {
	return &stubStorage{params: params}, nil
}

func newFactory(t *testing.T) (*Factory, *registry.Registry, *testutil.LogRecorder) {
	t.Helper()
	logger, rec := testutil.NewLogger()
	reg := registry.Default.Clone()
	return New(WithRegistry(reg), WithLogger(logger)), reg, rec
}

func TestBuildProcessor_ByName(t *testing.T) {
	f, _, rec := newFactory(t)

	p, err := f.BuildProcessor(ByName(googleanalytics.Name), measure.Options{"measurement_id": "g-1"})
	require.NoError(t, err)
	ga, ok := p.(*googleanalytics.Processor)
	require.True(t, ok)
	assert.Equal(t, "G-1", ga.MeasurementID())
	assert.Empty(t, rec.Records())
}

func TestBuildStorage_Direct(t *testing.T) {
	f, _, _ := newFactory(t)

	typed := func(o measure.Options) (measure.Storage, error) { return newStubStorage(o) }
	s, err := f.BuildStorage(Direct(typed), measure.Options{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, measure.Options{"a": 1}, s.(*stubStorage).params)
}

func TestBuildStorage_ConcreteReturnType(t *testing.T) {
	f, _, _ := newFactory(t)

	s, err := f.BuildStorage(Direct(newStubStorage), nil)
	require.NoError(t, err)
	assert.IsType(t, &stubStorage{}, s)

	noErr := func(measure.Options) *stubStorage { return &stubStorage{} }
	s, err = f.BuildStorage(Direct(noErr), nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestBuildStorage_ParamsAreCopied(t *testing.T) {
	f, _, _ := newFactory(t)
	params := measure.Options{"k": "v"}

	mutating := func(o measure.Options) (measure.Storage, error) {
		o["k"] = "changed"
		return &stubStorage{}, nil
	}
	_, err := f.BuildStorage(Direct(mutating), params)
	require.NoError(t, err)
	assert.Equal(t, "v", params["k"])
}

func TestBuild_ConstructorFailures(t *testing.T) {
	tests := []struct {
		name    string
		ctor    any
		wantMsg string
	}{
		{
			name:    "returns error",
			ctor:    func(measure.Options) (measure.Storage, error) { return nil, errors.New("bad path") },
			wantMsg: "bad path",
		},
		{
			name:    "panics",
			ctor:    func(measure.Options) (measure.Storage, error) { panic("kaboom") },
			wantMsg: "constructor panicked: kaboom",
		},
		{
			name:    "returns nil instance",
			ctor:    func(measure.Options) (measure.Storage, error) { return nil, nil },
			wantMsg: "constructor returned nil",
		},
		{
			name:    "returns typed nil",
			ctor:    func(measure.Options) (*stubStorage, error) { return nil, nil },
			wantMsg: "constructor returned nil",
		},
		{
			name:    "not a function",
			ctor:    42,
			wantMsg: "int is not a constructor",
		},
		{
			name:    "wrong arity",
			ctor:    func() measure.Storage { return &stubStorage{} },
			wantMsg: "is not a constructor",
		},
		{
			name:    "wrong product",
			ctor:    func(measure.Options) (string, error) { return "", nil },
			wantMsg: "does not implement",
		},
		{
			name:    "nil",
			ctor:    nil,
			wantMsg: "no constructor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, rec := newFactory(t)
			params := measure.Options{"path": "/tmp/x"}

			var s measure.Storage
			var err error
			assert.NotPanics(t, func() {
				s, err = f.BuildStorage(Direct(tt.ctor), params)
			})

			assert.Nil(t, s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, IsConstructionError(err))
			assert.False(t, IsResolutionError(err))

			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, registry.KindStorage, fe.Kind)
			assert.Equal(t, params, fe.Params)

			errs := rec.AtLevel(slog.LevelError)
			require.Len(t, errs, 1, "exactly one error logged")
			assert.Equal(t, params, errs[0].Attrs["params"])
		})
	}
}

func TestBuild_UnknownName(t *testing.T) {
	f, _, rec := newFactory(t)

	p, err := f.BuildProcessor(ByName("unknownName"), measure.Options{})
	assert.Nil(t, p)
	require.Error(t, err)
	assert.True(t, IsResolutionError(err))
	assert.True(t, IsConstructionError(err))
	assert.Contains(t, err.Error(), `"unknownName"`)

	errs := rec.AtLevel(slog.LevelError)
	require.Len(t, errs, 2)
	assert.Equal(t, "no constructor registered under name", errs[0].Message)
	assert.Equal(t, "unknownName", errs[0].Attrs["name"])
	assert.Equal(t, "could not construct instance", errs[1].Message)
}

func TestBuild_KindsAreSeparate(t *testing.T) {
	f, _, _ := newFactory(t)

	_, err := f.BuildStorage(ByName(googleanalytics.Name), nil)
	assert.True(t, IsResolutionError(err), "processor names do not resolve as storages")
}

func TestBuild_NameRegisteredOnClone(t *testing.T) {
	f, reg, _ := newFactory(t)
	require.NoError(t, reg.Register(registry.KindStorage, "stub", newStubStorage))

	s, err := f.BuildStorage(ByName("stub"), nil)
	require.NoError(t, err)
	assert.IsType(t, &stubStorage{}, s)
}

func TestRef(t *testing.T) {
	byName := RefOf("memory")
	assert.True(t, byName.IsName())
	assert.Equal(t, "memory", byName.Name())
	assert.Equal(t, `"memory"`, byName.String())

	direct := RefOf(newStubStorage)
	assert.False(t, direct.IsName())
	assert.True(t, strings.HasSuffix(direct.String(), "newStubStorage"), direct.String())

	assert.Equal(t, byName, RefOf(byName))
	assert.Equal(t, "<nil>", Direct(nil).String())
	assert.Equal(t, "int", Direct(3).String())
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: ErrCodeConstruction, Kind: registry.KindStorage, Ref: ByName("x"), Err: errors.New("boom")}
	assert.Equal(t, `CONSTRUCTION_FAILED: storage "x": boom`, err.Error())
	assert.True(t, errors.Is(err, err.Err))
}
