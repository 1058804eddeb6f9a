package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/seantiz/cairoprove/internal/workdir"
)

// Template holds the fixed part of the prover parameter file. The FRI step
// list is derived per job from the trace length.
type Template struct {
	Field                string `yaml:"field" json:"field"`
	LastLayerDegreeBound uint64 `yaml:"last_layer_degree_bound" json:"last_layer_degree_bound"`
	NQueries             uint32 `yaml:"n_queries" json:"n_queries"`
	ProofOfWorkBits      uint32 `yaml:"proof_of_work_bits" json:"proof_of_work_bits"`
	LogNCosets           uint32 `yaml:"log_n_cosets" json:"log_n_cosets"`
	UseExtensionField    bool   `yaml:"use_extension_field" json:"use_extension_field"`
}

// DefaultTemplate returns the stock parameter template.
func DefaultTemplate() Template {
	return Template{
		Field:                "PrimeField0",
		LastLayerDegreeBound: 64,
		NQueries:             18,
		ProofOfWorkBits:      24,
		LogNCosets:           4,
		UseExtensionField:    false,
	}
}

// ProverParams is the parameter file consumed by the prover.
type ProverParams struct {
	Field             string      `json:"field"`
	Stark             StarkParams `json:"stark"`
	UseExtensionField bool        `json:"use_extension_field"`
}

// StarkParams is the "stark" section of the parameter file.
type StarkParams struct {
	Fri        FriParams `json:"fri"`
	LogNCosets uint32    `json:"log_n_cosets"`
}

// FriParams is the "fri" section of the parameter file.
type FriParams struct {
	FriStepList          []uint32 `json:"fri_step_list"`
	LastLayerDegreeBound uint64   `json:"last_layer_degree_bound"`
	NQueries             uint32   `json:"n_queries"`
	ProofOfWorkBits      uint32   `json:"proof_of_work_bits"`
}

// FriStepList computes the FRI folding schedule for a trace of nSteps steps.
// The total degree is round(log2(nSteps/lastLayerDegreeBound)) + 4, spent as
// an initial 0 followed by as many 4s as fit and a final remainder step.
func FriStepList(nSteps, lastLayerDegreeBound uint64) []uint32 {
	if lastLayerDegreeBound == 0 {
		lastLayerDegreeBound = 1
	}
	log := math.Log2(float64(nSteps) / float64(lastLayerDegreeBound))
	if log < 0 || math.IsNaN(log) || math.IsInf(log, 0) {
		log = 0
	}
	degree := uint32(math.Round(log)) + 4

	steps := []uint32{0}
	for range degree / 4 {
		steps = append(steps, 4)
	}
	if rem := degree % 4; rem != 0 {
		steps = append(steps, rem)
	}
	return steps
}

// Params builds the parameter file for a trace of nSteps steps.
func (t Template) Params(nSteps uint64) ProverParams {
	return ProverParams{
		Field: t.Field,
		Stark: StarkParams{
			Fri: FriParams{
				FriStepList:          FriStepList(nSteps, t.LastLayerDegreeBound),
				LastLayerDegreeBound: t.LastLayerDegreeBound,
				NQueries:             t.NQueries,
				ProofOfWorkBits:      t.ProofOfWorkBits,
			},
			LogNCosets: t.LogNCosets,
		},
		UseExtensionField: t.UseExtensionField,
	}
}

// readNSteps extracts n_steps from the public input written by the trace stage.
func readNSteps(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: public input %s not found", ErrConfigMissing, path)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read public input: %v", ErrConfigMissing, err)
	}

	var pub struct {
		NSteps *uint64 `json:"n_steps"`
	}
	if err := json.Unmarshal(data, &pub); err != nil {
		return 0, fmt.Errorf("%w: decode public input: %v", ErrParams, err)
	}
	if pub.NSteps == nil || *pub.NSteps == 0 {
		return 0, fmt.Errorf("%w: public input has no n_steps", ErrParams)
	}
	return *pub.NSteps, nil
}

// writeParams derives the parameter file from the public input.
func writeParams(dir *workdir.Dir, t Template) error {
	nSteps, err := readNSteps(dir.Artifact(workdir.ArtifactPublicInput))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(t.Params(nSteps), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode params: %v", ErrParams, err)
	}
	if err := os.WriteFile(dir.Artifact(workdir.ArtifactParams), data, 0o644); err != nil {
		return fmt.Errorf("%w: write params: %v", ErrParams, err)
	}
	return nil
}
