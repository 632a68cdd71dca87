package vm

import (
	"testing"
	"time"

	"github.com/corvid-labs/yaracore/compiler"
	"github.com/corvid-labs/yaracore/errs"
	"github.com/corvid-labs/yaracore/modules"
	"github.com/corvid-labs/yaracore/value"
)

func evalCode(t *testing.T, rule *compiler.CompiledRule, ctx *ScanContext) (bool, error) {
	t.Helper()
	if ctx.Modules == nil {
		ctx.Modules = modules.NewRegistry()
	}
	m := New(DefaultLimits)
	return m.EvalRule(rule, ctx)
}

func TestArithmeticAndComparison(t *testing.T) {
	tests := []struct {
		name string
		code []compiler.Instruction
		want bool
	}{
		{
			name: "2 + 3 == 5",
			code: []compiler.Instruction{
				{Op: compiler.OpPushInt, Int: 2},
				{Op: compiler.OpPushInt, Int: 3},
				{Op: compiler.OpAdd},
				{Op: compiler.OpPushInt, Int: 5},
				{Op: compiler.OpEq},
				{Op: compiler.OpHalt},
			},
			want: true,
		},
		{
			name: "10 / 0 is undefined, so comparison is false",
			code: []compiler.Instruction{
				{Op: compiler.OpPushInt, Int: 10},
				{Op: compiler.OpPushInt, Int: 0},
				{Op: compiler.OpDiv},
				{Op: compiler.OpPushInt, Int: 0},
				{Op: compiler.OpEq},
				{Op: compiler.OpHalt},
			},
			want: false,
		},
		{
			name: "undefined == undefined is true",
			code: []compiler.Instruction{
				{Op: compiler.OpPushUndef},
				{Op: compiler.OpPushUndef},
				{Op: compiler.OpEq},
				{Op: compiler.OpHalt},
			},
			want: true,
		},
		{
			name: "int+float promotes",
			code: []compiler.Instruction{
				{Op: compiler.OpPushInt, Int: 1},
				{Op: compiler.OpPushFloat, Float: 0.5},
				{Op: compiler.OpAdd},
				{Op: compiler.OpPushFloat, Float: 1.5},
				{Op: compiler.OpEq},
				{Op: compiler.OpHalt},
			},
			want: true,
		},
		{
			name: "defined operator observes undefined without propagating",
			code: []compiler.Instruction{
				{Op: compiler.OpPushUndef},
				{Op: compiler.OpIsDefined},
				{Op: compiler.OpNot},
				{Op: compiler.OpHalt},
			},
			want: true, // not(is_defined(undefined)) == not(false) == true
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &compiler.CompiledRule{Name: "t", Code: tt.code}
			got, err := evalCode(t, rule, &ScanContext{})
			if err != nil {
				t.Fatalf("EvalRule: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShortCircuitAnd(t *testing.T) {
	// emulates `false and (1/0 == 0)`: and jumps past the right operand
	// without evaluating it once the left operand is falsy.
	code := []compiler.Instruction{
		{Op: compiler.OpPushBool, Int: 0},
		{Op: compiler.OpJumpIfFalse, Int: 4},
		{Op: compiler.OpPop},
		{Op: compiler.OpPushBool, Int: 1},
		{Op: compiler.OpHalt},
	}
	rule := &compiler.CompiledRule{Name: "and", Code: code}
	got, err := evalCode(t, rule, &ScanContext{})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if got {
		t.Errorf("short-circuit and: got true, want false")
	}
}

func TestQuantifierOfCount(t *testing.T) {
	// 2 of (true, false, true) with threshold 2 -> true
	code := []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 2}, // threshold, pushed first (below members)
		{Op: compiler.OpPushBool, Int: 1},
		{Op: compiler.OpPushBool, Int: 0},
		{Op: compiler.OpPushBool, Int: 1},
		{Op: compiler.OpOfCount, Int: 3},
		{Op: compiler.OpHalt},
	}
	rule := &compiler.CompiledRule{Name: "ofcount", Code: code}
	got, err := evalCode(t, rule, &ScanContext{})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Errorf("2 of 3 with 2 true: got false, want true")
	}
}

func TestQuantifierOfPercent(t *testing.T) {
	// 50% of (true, false) -> need ceil(2*50/100)=1 match; 1 true satisfies.
	code := []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 50},
		{Op: compiler.OpPushBool, Int: 1},
		{Op: compiler.OpPushBool, Int: 0},
		{Op: compiler.OpOfPercent, Int: 2},
		{Op: compiler.OpHalt},
	}
	rule := &compiler.CompiledRule{Name: "ofpct", Code: code}
	got, err := evalCode(t, rule, &ScanContext{})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Errorf("50%% of 2 with 1 true: got false, want true")
	}
}

func TestQuantifierOfAllAnyNone(t *testing.T) {
	tests := []struct {
		op      compiler.Op
		members []int64 // 1 = true, 0 = false
		want    bool
	}{
		{compiler.OpOfAll, []int64{1, 1, 1}, true},
		{compiler.OpOfAll, []int64{1, 0, 1}, false},
		{compiler.OpOfAny, []int64{0, 0, 1}, true},
		{compiler.OpOfAny, []int64{0, 0, 0}, false},
		{compiler.OpOfNone, []int64{0, 0, 0}, true},
		{compiler.OpOfNone, []int64{0, 1, 0}, false},
	}
	for _, tt := range tests {
		var code []compiler.Instruction
		for _, m := range tt.members {
			code = append(code, compiler.Instruction{Op: compiler.OpPushBool, Int: m})
		}
		code = append(code,
			compiler.Instruction{Op: tt.op, Int: int64(len(tt.members))},
			compiler.Instruction{Op: compiler.OpHalt},
		)
		rule := &compiler.CompiledRule{Name: tt.op.String(), Code: code}
		got, err := evalCode(t, rule, &ScanContext{})
		if err != nil {
			t.Fatalf("%s: EvalRule: %v", tt.op, err)
		}
		if got != tt.want {
			t.Errorf("%s(%v): got %v, want %v", tt.op, tt.members, got, tt.want)
		}
	}
}

func TestStringMatchOps(t *testing.T) {
	rule := &compiler.CompiledRule{
		Name: "r",
		StringGroups: []compiler.StringGroup{
			{Name: "$a", PatternIds: []compiler.PatternId{0, 1}},
		},
		Code: []compiler.Instruction{
			{Op: compiler.OpMatch, Int: 0},
			{Op: compiler.OpHalt},
		},
	}
	ctx := &ScanContext{
		Matches: map[compiler.PatternId][]compiler.Match{
			0: {{Pattern: 0, Offset: 10, Length: 3}},
		},
	}
	got, err := evalCode(t, rule, ctx)
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("expected group with a match to report true")
	}

	rule.Code = []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 10},
		{Op: compiler.OpAt, Int: 0},
		{Op: compiler.OpHalt},
	}
	got, err = evalCode(t, rule, ctx)
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("expected match at offset 10 to report true")
	}

	rule.Code = []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 1},
		{Op: compiler.OpOffset, Int: 0},
		{Op: compiler.OpPushInt, Int: 10},
		{Op: compiler.OpEq},
		{Op: compiler.OpHalt},
	}
	got, err = evalCode(t, rule, ctx)
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("expected 1st match offset to equal 10")
	}
}

func TestBuiltinsFilesizeAndUint(t *testing.T) {
	subject := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	rule := &compiler.CompiledRule{
		Name: "r",
		Code: []compiler.Instruction{
			{Op: compiler.OpFilesize},
			{Op: compiler.OpPushInt, Int: int64(len(subject))},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		},
	}
	got, err := evalCode(t, rule, &ScanContext{Subject: subject, Filesize: int64(len(subject))})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("filesize mismatch")
	}

	rule.Code = []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 0},
		{Op: compiler.OpUint32BE},
		{Op: compiler.OpPushInt, Int: 0xdeadbeef},
		{Op: compiler.OpEq},
		{Op: compiler.OpHalt},
	}
	got, err = evalCode(t, rule, &ScanContext{Subject: subject})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("uint32be(0) should read 0xdeadbeef")
	}

	rule.Code = []compiler.Instruction{
		{Op: compiler.OpPushInt, Int: 100}, // out of bounds
		{Op: compiler.OpUint8},
		{Op: compiler.OpIsDefined},
		{Op: compiler.OpHalt},
	}
	got, err = evalCode(t, rule, &ScanContext{Subject: subject})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if got {
		t.Error("out-of-bounds uint8 read should be undefined")
	}
}

func TestInstructionBudgetExceeded(t *testing.T) {
	// an infinite loop: jump back to pc 0 forever.
	rule := &compiler.CompiledRule{
		Name: "loop",
		Code: []compiler.Instruction{
			{Op: compiler.OpJump, Int: 0},
		},
	}
	m := New(Limits{MaxInstructions: 100, MaxStackDepth: 10})
	_, err := m.EvalRule(rule, &ScanContext{Modules: modules.NewRegistry()})
	if err == nil {
		t.Fatal("expected instruction budget error, got nil")
	}
	rl, ok := err.(*errs.RuntimeLimit)
	if !ok {
		t.Fatalf("expected *errs.RuntimeLimit, got %T", err)
	}
	if rl.Kind != errs.InstructionBudget {
		t.Errorf("expected InstructionBudget kind, got %v", rl.Kind)
	}
}

func TestCancellation(t *testing.T) {
	rule := &compiler.CompiledRule{
		Name: "loop",
		Code: []compiler.Instruction{
			{Op: compiler.OpJump, Int: 0},
		},
	}
	cancel := make(chan struct{})
	close(cancel)
	m := New(Limits{MaxInstructions: 1_000_000, MaxStackDepth: 10})
	_, err := m.EvalRule(rule, &ScanContext{Modules: modules.NewRegistry(), Cancel: cancel})
	if err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
}

func TestDeadlineExceeded(t *testing.T) {
	rule := &compiler.CompiledRule{
		Name: "r",
		Code: []compiler.Instruction{
			{Op: compiler.OpPushBool, Int: 1},
			{Op: compiler.OpHalt},
		},
	}
	m := New(Limits{MaxInstructions: 1000, MaxStackDepth: 10, Deadline: time.Now().Add(-time.Second)})
	_, err := m.EvalRule(rule, &ScanContext{Modules: modules.NewRegistry()})
	if err == nil {
		t.Fatal("expected deadline error, got nil")
	}
}

func TestLoadStoreVar(t *testing.T) {
	rule := &compiler.CompiledRule{
		Name:     "r",
		NumSlots: 1,
		Code: []compiler.Instruction{
			{Op: compiler.OpPushInt, Int: 7},
			{Op: compiler.OpStoreVar, Int: 0},
			{Op: compiler.OpLoadVar, Int: 0},
			{Op: compiler.OpPushInt, Int: 7},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		},
	}
	got, err := evalCode(t, rule, &ScanContext{})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("store/load var round trip failed")
	}
}

func TestModuleCall(t *testing.T) {
	reg := modules.NewRegistry(modules.Module{
		Name: "test",
		Functions: []modules.Function{
			{Name: "answer", Arity: 0, Call: func(ctx *modules.CallContext, args []value.Value) (value.Value, error) {
				return value.Int(42), nil
			}},
		},
	})
	rule := &compiler.CompiledRule{
		Name: "r",
		Code: []compiler.Instruction{
			{Op: compiler.OpCall, A: 0, B: 0, Int: 0},
			{Op: compiler.OpPushInt, Int: 42},
			{Op: compiler.OpEq},
			{Op: compiler.OpHalt},
		},
	}
	got, err := evalCode(t, rule, &ScanContext{Modules: reg})
	if err != nil {
		t.Fatalf("EvalRule: %v", err)
	}
	if !got {
		t.Error("module call result mismatch")
	}
}
