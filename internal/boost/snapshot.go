package boost

import "encoding/json"

// rawSnapshot is the periodic checkpoint payload spec.md §4.5 step 10
// names: the per-output, per-row accumulated raw scores at one iteration.
// Train writes these but never reads them; a run continued from an initial
// model rebuilds its raw scores by replaying every prior tree over the
// training set. encoding/json matches the rest of this module's
// payload serialization (internal/modelstore's JSONField, the teacher's own
// cmd/cli summary dumps).
type rawSnapshot struct {
	Iteration int         `json:"iteration"`
	Raw       [][]float64 `json:"raw"`
}

func encodeRawSnapshot(iteration int, raw [][]float64) ([]byte, error) {
	return json.Marshal(rawSnapshot{Iteration: iteration, Raw: raw})
}

// DecodeRawSnapshot parses a checkpoint blob written by the training loop.
func DecodeRawSnapshot(data []byte) (iteration int, raw [][]float64, err error) {
	var snap rawSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, nil, err
	}
	return snap.Iteration, snap.Raw, nil
}
