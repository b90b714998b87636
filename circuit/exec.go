package circuit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/process"
)

// envelope is the JSON document an external generator writes to stdout.
// Exactly one of the result fields or Error is set.
type envelope struct {
	Hash     string                 `json:"hash,omitempty"`
	Payload  string                 `json:"payload,omitempty"` // base64
	Method   string                 `json:"method,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    *envelopeError         `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecProcessor shells out to an external generator command per spec.
// The spec is written as JSON to the command's stdin; the command writes
// a result envelope to stdout. Generation and simulation stay in the
// external tool — this side only moves data.
type ExecProcessor struct {
	// Command is the generator executable, split on whitespace into
	// binary and leading arguments.
	Command string
	// GracePeriod is passed through to the subprocess SIGTERM handling.
	GracePeriod time.Duration
}

// NewExecProcessor creates a processor driving the given external command.
func NewExecProcessor(command string) *ExecProcessor {
	return &ExecProcessor{Command: command}
}

func (p *ExecProcessor) Process(ctx context.Context, spec Spec, workerID int) (*Result, error) {
	started := time.Now()

	parts := strings.Fields(p.Command)
	if len(parts) == 0 {
		return nil, apperrors.Generation(fmt.Errorf("generator command is empty"))
	}

	input, err := json.Marshal(spec)
	if err != nil {
		return nil, apperrors.Generation(err)
	}

	res, err := process.Run(ctx, process.Command{
		Binary:      parts[0],
		Args:        parts[1:],
		Stdin:       bytes.NewReader(input),
		GracePeriod: p.GracePeriod,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.SimulationTimeout(spec.ID)
		}
		genErr := apperrors.Generation(err)
		if res != nil && len(res.Stderr) > 0 {
			genErr = genErr.WithDetail("stderr", truncate(string(res.Stderr), 512))
		}
		return nil, genErr
	}

	var env envelope
	if err := json.Unmarshal(res.Stdout, &env); err != nil {
		return nil, apperrors.Extraction(fmt.Errorf("parsing generator output: %w", err))
	}
	if env.Error != nil {
		return nil, envelopeToError(spec, env.Error)
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, apperrors.Extraction(fmt.Errorf("decoding payload: %w", err))
	}
	if len(payload) == 0 {
		return nil, apperrors.Extraction(fmt.Errorf("generator returned empty payload"))
	}

	hash := env.Hash
	if hash == "" {
		hash = HashPayload(payload)
	}
	method := env.Method
	if method == "" {
		method = "qpy"
	}

	return &Result{
		TaskID:     spec.ID,
		Hash:       hash,
		Generator:  spec.Generator,
		Payload:    payload,
		Method:     method,
		Metadata:   env.Metadata,
		WorkerID:   workerID,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}

// envelopeToError maps an external generator's error report onto the
// pipeline taxonomy. Unrecognized codes fall back to UNKNOWN.
func envelopeToError(spec Spec, ee *envelopeError) error {
	cause := fmt.Errorf("%s", ee.Message)
	switch apperrors.ErrorCode(ee.Code) {
	case apperrors.ErrCodeGeneration:
		return apperrors.Generation(cause)
	case apperrors.ErrCodeExtraction:
		return apperrors.Extraction(cause)
	case apperrors.ErrCodeSimulationTimeout:
		return apperrors.SimulationTimeout(spec.ID)
	default:
		return apperrors.Unknown(cause)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
