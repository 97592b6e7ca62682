package workflow

import "testing"

func TestSelectGroup(t *testing.T) {
	groups := []int{10, 20, 30}

	tests := []struct {
		name    string
		pointer *int
		want    int
	}{
		{name: "nil pointer falls back to first group", pointer: nil, want: 10},
		{name: "valid pointer is honored", pointer: intPtr(20), want: 20},
		{name: "stale pointer falls back to first group", pointer: intPtr(99), want: 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectGroup(groups, tc.pointer); got != tc.want {
				t.Fatalf("SelectGroup = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNextGroupId(t *testing.T) {
	groups := []int{10, 20, 30}

	tests := []struct {
		name    string
		current int
		want    int
	}{
		{name: "advances to the next group", current: 10, want: 20},
		{name: "wraps from the last group", current: 30, want: 10},
		{name: "unknown current restarts at the front", current: 99, want: 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextGroupId(groups, tc.current); got != tc.want {
				t.Fatalf("NextGroupId = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNextGroupId_SingleGroupCycles(t *testing.T) {
	if got := NextGroupId([]int{7}, 7); got != 7 {
		t.Fatalf("single-group rotation must cycle onto itself, got %d", got)
	}
}

func intPtr(v int) *int { return &v }
