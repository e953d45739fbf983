package status

import "testing"

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{Ok, "Ok"},
		{NotFound, "NotFound"},
		{MemoryOverflow, "MemoryOverflow"},
		{InvalidArgument, "InvalidArgument"},
		{Abort, "Abort"},
		{Fail, "Fail"},
		{Status(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
