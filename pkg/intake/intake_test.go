package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/models"
)

type fakeStore struct {
	mu      sync.Mutex
	scans   []models.ScanRequest
	theses  map[string]models.Thesis
}

func newFakeStore() *fakeStore { return &fakeStore{theses: make(map[string]models.Thesis)} }

func (f *fakeStore) CreateScan(_ context.Context, scan models.ScanRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, scan)
	return nil
}

func (f *fakeStore) SaveThesis(_ context.Context, thesis models.Thesis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.theses[thesis.ID] = thesis
	return nil
}

func (f *fakeStore) GetThesis(_ context.Context, id string) (*models.Thesis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.theses[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &t, nil
}

type fakeRunner struct {
	mu    sync.Mutex
	done  chan struct{}
	got   models.ScanRequest
	thesis *models.Thesis
}

func newFakeRunner() *fakeRunner { return &fakeRunner{done: make(chan struct{}, 1)} }

func (r *fakeRunner) Run(_ context.Context, scan models.ScanRequest, thesis *models.Thesis) error {
	r.mu.Lock()
	r.got = scan
	r.thesis = thesis
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func TestCreateScan_AssignsIDAndPersistsBeforeReturning(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner()
	svc := New(store, runner, time.Hour).WithClock(clock.NewMock(time.Now()))

	id, err := svc.CreateScan(context.Background(), models.ScanRequest{Company: models.Company{Name: "Acme"}}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	store.mu.Lock()
	require.Len(t, store.scans, 1)
	assert.Equal(t, id, store.scans[0].ID)
	assert.Equal(t, models.ScanPending, store.scans[0].Status)
	store.mu.Unlock()

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("orchestrator was never invoked")
	}
	assert.Equal(t, id, runner.got.ID)
}

func TestCreateScan_InlineThesisIsSavedAndIDAssigned(t *testing.T) {
	store := newFakeStore()
	runner := newFakeRunner()
	svc := New(store, runner, 0)

	thesis := &models.Thesis{Statement: "grows fast"}
	_, err := svc.CreateScan(context.Background(), models.ScanRequest{Company: models.Company{Name: "Acme"}}, thesis)
	require.NoError(t, err)
	assert.NotEmpty(t, thesis.ID)

	<-runner.done
	require.NotNil(t, runner.thesis)
	assert.Equal(t, "grows fast", runner.thesis.Statement)
}

func TestCreateScan_ResolvesThesisByIDWhenNotSuppliedInline(t *testing.T) {
	store := newFakeStore()
	store.theses["thesis-1"] = models.Thesis{ID: "thesis-1", Statement: "stored thesis"}
	runner := newFakeRunner()
	svc := New(store, runner, 0)

	_, err := svc.CreateScan(context.Background(), models.ScanRequest{Company: models.Company{Name: "Acme"}, ThesisID: "thesis-1"}, nil)
	require.NoError(t, err)

	<-runner.done
	require.NotNil(t, runner.thesis)
	assert.Equal(t, "stored thesis", runner.thesis.Statement)
}
