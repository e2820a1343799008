package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/funvibe/pybc/internal/vm"
)

// FuzzPipelineBundleRoundTrip compiles arbitrary tree documents. Whatever
// compiles must verify, survive a bundle round trip and run the same way
// before and after it.
func FuzzPipelineBundleRoundTrip(f *testing.F) {
	f.Add([]byte(divisionSrc))
	f.Add([]byte("node: Module\nbody: [{node: Print, values: [{node: Num, n: 1}]}]\n"))
	f.Add([]byte(`
node: Module
body:
  - node: For
    target: {node: Name, id: i, ctx: store}
    iter: {node: Call, func: {node: Name, id: range}, args: [{node: Num, n: 3}]}
    body:
      - node: TryFinally
        body: [{node: Print, values: [{node: Name, id: i}]}]
        finalbody: [{node: Continue}]
`))
	f.Add([]byte(`
node: Module
body:
  - node: FunctionDef
    name: g
    body: [{node: Expr, value: {node: Yield, value: {node: Num, n: 1}}}]
  - {node: Print, values: [{node: Call, func: {node: Name, id: list}, args: [{node: Call, func: {node: Name, id: g}}]}]}
`))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 4096 {
			return
		}
		ctx := Default().Run(NewPipelineContext(data))
		if ctx.Failed() {
			return
		}

		raw, err := vm.NewBundle(ctx.Unit, "", "fuzz", ctx.Known).Serialize()
		if err != nil {
			t.Fatalf("serialize: %s", err)
		}
		bundle, err := vm.DeserializeBundle(raw)
		if err != nil {
			t.Fatalf("deserialize: %s", err)
		}
		if _, err := vm.Verify(bundle.Unit); err != nil {
			t.Fatalf("loaded unit fails verification: %s", err)
		}

		direct, directErr := execute(ctx.Unit)
		loaded, loadedErr := execute(bundle.Unit)
		if errors.Is(directErr, context.DeadlineExceeded) || errors.Is(loadedErr, context.DeadlineExceeded) {
			return
		}
		if direct != loaded {
			t.Errorf("output differs after round trip:\n%q\n%q", direct, loaded)
		}
		if (directErr == nil) != (loadedErr == nil) {
			t.Errorf("errors differ after round trip: %v / %v", directErr, loadedErr)
		}
	})
}

func execute(unit *vm.CodeUnit) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	machine := vm.New()
	machine.SetOutput(&out)
	machine.SetContext(ctx)
	_, err := machine.Run(unit)
	return out.String(), err
}
