package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		status     Status
		valid      bool
		terminal   bool
		hasResults bool
	}{
		{status: StatusPending, valid: true},
		{status: StatusRunning, valid: true},
		{status: StatusComplete, valid: true, terminal: true, hasResults: true},
		{status: StatusPartial, valid: true, terminal: true, hasResults: true},
		{status: StatusError, valid: true, terminal: true},
		{status: StatusCancelled, valid: true, terminal: true},
		{status: "unknown"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.hasResults, tt.status.HasResults())
		})
	}
}

func TestRun_Validate(t *testing.T) {
	valid := func() *Run {
		return &Run{
			ID:          "run-1",
			AnalysisID:  "a-1",
			Status:      StatusRunning,
			StartedAt:   time.Now(),
			StatesTotal: 3,
			StatesDone:  1,
		}
	}

	tests := []struct {
		mutate  func(*Run)
		name    string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Run) {}},
		{name: "missing ID", mutate: func(r *Run) { r.ID = "" }, wantErr: true},
		{name: "missing analysis", mutate: func(r *Run) { r.AnalysisID = "" }, wantErr: true},
		{name: "bad status", mutate: func(r *Run) { r.Status = "done" }, wantErr: true},
		{name: "missing start", mutate: func(r *Run) { r.StartedAt = time.Time{} }, wantErr: true},
		{name: "progress past total", mutate: func(r *Run) { r.StatesDone = 4 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := valid()
			tt.mutate(run)
			err := run.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRun)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRun_CloneIsDeep(t *testing.T) {
	completed := time.Now()
	msg := "boom"
	run := &Run{
		ID:          "run-1",
		CompletedAt: &completed,
		Error:       &msg,
		StateErrors: []StateFailure{{State: "KS", Error: "no rate"}},
	}

	c := run.clone()
	c.StateErrors[0].State = "MO"
	*c.Error = "changed"

	assert.Equal(t, "KS", run.StateErrors[0].State)
	assert.Equal(t, "boom", *run.Error)
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	run := &Run{StartedAt: start}
	assert.Equal(t, 30*time.Second, run.Duration(start.Add(30*time.Second)))

	run.CompletedAt = &end
	assert.Equal(t, 90*time.Second, run.Duration(start.Add(time.Hour)))
}
