package workflowbus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCtx struct{ cancelled bool }

func (f fakeCtx) Heartbeat() error      { return nil }
func (f fakeCtx) StepStarted(string)    {}
func (f fakeCtx) Cancelled() bool       { return f.cancelled }

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Message string `json:"message"`
}

func TestRegisterAndDispatch(t *testing.T) {
	r := NewRegistry()

	err := Register(r, "greet", "greetInput", func(ctx Context, in greetInput) (greetOutput, error) {
		return greetOutput{Message: "hello " + in.Name}, nil
	})
	require.NoError(t, err)

	raw, err := json.Marshal(greetInput{Name: "ada"})
	require.NoError(t, err)

	out, err := r.Dispatch(fakeCtx{}, "greet", raw)
	require.NoError(t, err)

	var decoded greetOutput
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "hello ada", decoded.Message)

	typeName, ok := r.InputTypeName("greet")
	require.True(t, ok)
	assert.Equal(t, "greetInput", typeName)
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx Context, in greetInput) (greetOutput, error) { return greetOutput{}, nil }

	require.NoError(t, Register(r, "greet", "greetInput", handler))

	err := Register(r, "greet", "greetInput", handler)
	require.Error(t, err)

	var dup *ErrAlreadyRegistered
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "greet", dup.Name)
}

func TestDispatch_UnknownWorkflow(t *testing.T) {
	r := NewRegistry()

	_, err := r.Dispatch(fakeCtx{}, "missing", nil)
	require.Error(t, err)

	var unknown *ErrUnknownWorkflow
	require.True(t, errors.As(err, &unknown))
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx Context, in greetInput) (greetOutput, error) { return greetOutput{}, nil }
	MustRegister(r, "greet", "greetInput", handler)

	assert.Panics(t, func() {
		MustRegister(r, "greet", "greetInput", handler)
	})
}
