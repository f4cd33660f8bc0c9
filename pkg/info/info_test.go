package info

import (
	"errors"
	"testing"
)

var (
	testExtent = NewKey[[]int]("TEST_EXTENT")
	testSteps  = NewKey[[]float64]("TEST_STEPS")
	testCount  = NewKey[int]("TEST_COUNT")
	testNested = NewKey[*Information]("TEST_NESTED")
	testBlocks = NewKey[[]*Information]("TEST_BLOCKS")
)

func TestKeySetGet(t *testing.T) {
	in := New()
	testExtent.Set(in, []int{0, 9, 0, 9, 0, 0})
	testCount.Set(in, 4)

	ext, ok := testExtent.Get(in)
	if !ok || len(ext) != 6 || ext[1] != 9 {
		t.Fatalf("Get = %v, %v", ext, ok)
	}
	if n := testCount.MustGet(in); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
	if _, ok := testSteps.Get(in); ok {
		t.Error("unset key reported as present")
	}
	if got := testSteps.GetOr(in, []float64{1}); len(got) != 1 {
		t.Errorf("GetOr default not returned: %v", got)
	}
}

func TestSetCopiesSlices(t *testing.T) {
	in := New()
	src := []int{1, 2, 3, 4, 5, 6}
	testExtent.Set(in, src)
	src[0] = 100

	got, _ := testExtent.Get(in)
	if got[0] != 1 {
		t.Errorf("stored slice aliases caller slice")
	}
}

func TestCopyIsDeep(t *testing.T) {
	nested := New()
	testCount.Set(nested, 1)

	in := New()
	testNested.Set(in, nested)
	testBlocks.Set(in, []*Information{nested})

	cp := in.Copy()
	inner, _ := testNested.Get(cp)
	testCount.Set(inner, 99)

	orig, _ := testNested.Get(in)
	if testCount.MustGet(orig) != 1 {
		t.Error("nested information shared between copies")
	}
	if !in.Equal(in.Copy()) {
		t.Error("copy not equal to original")
	}
	if in.Equal(cp) {
		t.Error("mutated copy still equal")
	}
}

func TestDuplicateKeyRegistration(t *testing.T) {
	again := NewKey[int]("TEST_COUNT")
	in := New()
	again.Set(in, 7)
	if testCount.MustGet(in) != 7 {
		t.Error("same-typed keys with the same name should be interchangeable")
	}

	defer func() {
		if recover() == nil {
			t.Error("registering a key with a conflicting type should panic")
		}
	}()
	NewKey[string]("TEST_COUNT")
}

func TestWrongTypeReadPanics(t *testing.T) {
	in := New()
	if err := in.SetValue("TEST_LATE_KEY", 3); err != nil {
		t.Fatal(err)
	}
	late := Key[string]{name: "TEST_LATE_KEY"}

	defer func() {
		r := recover()
		var tm *TypeMismatchError
		err, ok := r.(error)
		if !ok || !errors.As(err, &tm) {
			t.Fatalf("expected TypeMismatchError panic, got %v", r)
		}
		if tm.Key != "TEST_LATE_KEY" {
			t.Errorf("key = %q", tm.Key)
		}
	}()
	late.Get(in)
}

func TestSetValueChecksRegisteredType(t *testing.T) {
	in := New()
	if err := in.SetValue("TEST_COUNT", "four"); err == nil {
		t.Error("expected type mismatch for registered key")
	}
	if err := in.SetValue("TEST_UNSUPPORTED", struct{}{}); err == nil {
		t.Error("expected unsupported type error")
	}
	if err := in.SetValue("TEST_COUNT", 4); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestKeysSorted(t *testing.T) {
	in := New()
	testSteps.Set(in, []float64{0.5})
	testCount.Set(in, 1)
	testExtent.Set(in, []int{0, 0, 0, 0, 0, 0})

	keys := in.Keys()
	want := []string{"TEST_COUNT", "TEST_EXTENT", "TEST_STEPS"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}
