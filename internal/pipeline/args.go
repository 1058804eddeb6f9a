package pipeline

import (
	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/stage"
	"github.com/seantiz/cairoprove/internal/workdir"
)

// Binaries names the external programs each stage invokes.
type Binaries struct {
	Trace       string `yaml:"trace"`
	Cairo0Trace string `yaml:"cairo0_trace"`
	Prover      string `yaml:"prover"`
	Verifier    string `yaml:"verifier"`
}

// DefaultBinaries returns the stock program names, resolved through PATH.
func DefaultBinaries() Binaries {
	return Binaries{
		Trace:       "cairo1-run",
		Cairo0Trace: "cairo-run",
		Prover:      "cpu_air_prover",
		Verifier:    "cpu_air_verifier",
	}
}

func traceCommand(bins Binaries, dir *workdir.Dir, input model.ProverInput) stage.Command {
	args := []string{
		"--trace_file", dir.Artifact(workdir.ArtifactTrace),
		"--memory_file", dir.Artifact(workdir.ArtifactMemory),
		"--layout", input.Layout,
		"--proof_mode",
		"--air_public_input", dir.Artifact(workdir.ArtifactPublicInput),
		"--air_private_input", dir.Artifact(workdir.ArtifactPrivateInput),
	}

	name := bins.Trace
	if input.Kind == model.KindCairo0 {
		name = bins.Cairo0Trace
		args = append(args,
			"--program_input", dir.Artifact(workdir.ArtifactInput),
			"--program", dir.Artifact(workdir.ArtifactProgram),
		)
	} else {
		args = append(args,
			"--args_file", dir.Artifact(workdir.ArtifactInput),
			dir.Artifact(workdir.ArtifactProgram),
		)
	}

	return stage.Command{Name: name, Args: args, Dir: dir.Path()}
}

func proveCommand(bins Binaries, dir *workdir.Dir, proverConfig string) stage.Command {
	return stage.Command{
		Name: bins.Prover,
		Args: []string{
			"--out_file", dir.Artifact(workdir.ArtifactProof),
			"--private_input_file", dir.Artifact(workdir.ArtifactPrivateInput),
			"--public_input_file", dir.Artifact(workdir.ArtifactPublicInput),
			"--prover_config_file", proverConfig,
			"--parameter_file", dir.Artifact(workdir.ArtifactParams),
			"--generate_annotations",
		},
		Dir: dir.Path(),
	}
}

func verifyCommand(bins Binaries, dir *workdir.Dir) stage.Command {
	return stage.Command{
		Name: bins.Verifier,
		Args: []string{"--in_file", dir.Artifact(workdir.ArtifactProof)},
		Dir:  dir.Path(),
	}
}
