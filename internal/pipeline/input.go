package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/workdir"
)

// writeInputs serializes the program and its input into the job directory.
func writeInputs(dir *workdir.Dir, input model.ProverInput) error {
	program := bytes.TrimSpace(input.Program)
	if len(program) == 0 || !json.Valid(program) {
		return fmt.Errorf("%w: program is not a JSON document", ErrSerialization)
	}

	var args []byte
	switch input.Kind {
	case model.KindCairo0:
		args = bytes.TrimSpace(input.ProgramInput)
		if len(args) == 0 {
			args = []byte("{}")
		}
		if !json.Valid(args) {
			return fmt.Errorf("%w: program input is not valid JSON", ErrSerialization)
		}
	default:
		s, err := SerializeArgs(input.ProgramInput)
		if err != nil {
			return err
		}
		args = []byte(s)
	}

	if err := os.WriteFile(dir.Artifact(workdir.ArtifactProgram), program, 0o644); err != nil {
		return fmt.Errorf("%w: write program: %v", ErrSerialization, err)
	}
	if err := os.WriteFile(dir.Artifact(workdir.ArtifactInput), args, 0o644); err != nil {
		return fmt.Errorf("%w: write program input: %v", ErrSerialization, err)
	}
	return nil
}

// SerializeArgs renders a JSON array of felts as the bracketed,
// space-separated list accepted by the trace generator's args file. Nested
// arrays become nested brackets: [1,[2,3],"0x4"] renders as "[1 [2 3] 0x4]".
// Numbers are kept verbatim and strings must hold a single decimal or hex
// token. A missing input renders as an empty list.
func SerializeArgs(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "[]", nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: program input: %v", ErrSerialization, err)
	}
	if _, ok := v.([]any); !ok {
		return "", fmt.Errorf("%w: program input must be a JSON array", ErrSerialization)
	}

	var b strings.Builder
	if err := writeArg(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeArg(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(' ')
			}
			if err := writeArg(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case json.Number:
		b.WriteString(t.String())
	case string:
		if t == "" || strings.ContainsAny(t, " \t\r\n[]") {
			return fmt.Errorf("%w: invalid felt %q", ErrSerialization, t)
		}
		b.WriteString(t)
	default:
		return fmt.Errorf("%w: unsupported value %v in program input", ErrSerialization, v)
	}
	return nil
}
