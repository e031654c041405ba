package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// --- ClassyFire Mock ---

type mockClassyFireClient struct {
	mock.Mock
}

func (m *mockClassyFireClient) Lookup(ctx context.Context, inchikey string) (*classyfire.Entity, error) {
	args := m.Called(ctx, inchikey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classyfire.Entity), args.Error(1)
}

func (m *mockClassyFireClient) Classify(ctx context.Context, inchikey string) classyfire.Taxonomy {
	args := m.Called(ctx, inchikey)
	return args.Get(0).(classyfire.Taxonomy)
}

// --- CTS Mock ---

type mockCTSClient struct {
	mock.Mock
}

func (m *mockCTSClient) Convert(ctx context.Context, from, to, id string) ([]string, error) {
	args := m.Called(ctx, from, to, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockCTSClient) ConvertBatch(ctx context.Context, from, to string, ids []string) (map[string]string, error) {
	args := m.Called(ctx, from, to, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// --- Stage Fake ---

type fakeStage struct {
	res   *StageResult
	err   error
	block bool
	calls int
}

func (f *fakeStage) Run(ctx context.Context) (*StageResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.res, f.err
}
