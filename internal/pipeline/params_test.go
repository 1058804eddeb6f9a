package pipeline

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestFriStepList(t *testing.T) {
	tests := []struct {
		nSteps uint64
		bound  uint64
		want   []uint32
	}{
		{32768, 64, []uint32{0, 4, 4, 4, 1}},
		{16384, 64, []uint32{0, 4, 4, 4}},
		{1024, 64, []uint32{0, 4, 4}},
		{64, 64, []uint32{0, 4}},
		{8, 64, []uint32{0, 4}},
		{131072, 64, []uint32{0, 4, 4, 4, 3}},
		{65536, 128, []uint32{0, 4, 4, 4, 1}},
		{0, 64, []uint32{0, 4}},
	}
	for _, tc := range tests {
		got := FriStepList(tc.nSteps, tc.bound)
		if !slices.Equal(got, tc.want) {
			t.Errorf("FriStepList(%d, %d) = %v, want %v", tc.nSteps, tc.bound, got, tc.want)
		}
	}
}

func TestParamsJSONShape(t *testing.T) {
	data, err := json.Marshal(DefaultTemplate().Params(32768))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"field":"PrimeField0","stark":{"fri":{"fri_step_list":[0,4,4,4,1],"last_layer_degree_bound":64,"n_queries":18,"proof_of_work_bits":24},"log_n_cosets":4},"use_extension_field":false}`
	if string(data) != want {
		t.Errorf("params JSON =\n%s\nwant\n%s", data, want)
	}
}

func TestSerializeArgs(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[1,[2,3],"0x4"]`, "[1 [2 3] 0x4]"},
		{`[]`, "[]"},
		{``, "[]"},
		{`null`, "[]"},
		{`[123456789012345678901234567890]`, "[123456789012345678901234567890]"},
		{`[[],[1]]`, "[[] [1]]"},
	}
	for _, tc := range tests {
		got, err := SerializeArgs(json.RawMessage(tc.in))
		if err != nil {
			t.Errorf("SerializeArgs(%s): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SerializeArgs(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSerializeArgsRejects(t *testing.T) {
	for _, in := range []string{
		`{"a":1}`,
		`5`,
		`[true]`,
		`[null]`,
		`["1 2"]`,
		`[""]`,
		`[{"a":1}]`,
		`[1,`,
	} {
		if _, err := SerializeArgs(json.RawMessage(in)); !errors.Is(err, ErrSerialization) {
			t.Errorf("SerializeArgs(%s) error = %v, want ErrSerialization", in, err)
		}
	}
}
