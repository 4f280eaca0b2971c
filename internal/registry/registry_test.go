package registry

import "testing"

func TestUploadJobProgress(t *testing.T) {
	tests := []struct {
		name string
		job  UploadJob
		want float64
	}{
		{
			name: "no chunks yet",
			job:  UploadJob{Status: StatusProcessing, TotalChunks: 0},
			want: 0,
		},
		{
			name: "completed without chunks",
			job:  UploadJob{Status: StatusCompleted, TotalChunks: 0},
			want: 100,
		},
		{
			name: "halfway",
			job:  UploadJob{Status: StatusProcessing, TotalChunks: 4, ProcessedChunks: 2},
			want: 50,
		},
		{
			name: "all chunks done",
			job:  UploadJob{Status: StatusCompleted, TotalChunks: 3, ProcessedChunks: 3},
			want: 100,
		},
		{
			name: "failed mid-run keeps partial progress",
			job:  UploadJob{Status: StatusFailed, TotalChunks: 5, ProcessedChunks: 1},
			want: 20,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.job.Progress(); got != tc.want {
				t.Errorf("Progress() = %v, want %v", got, tc.want)
			}
		})
	}
}
